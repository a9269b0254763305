package migrations

import (
	"gorm.io/gorm"
)

// Migration002AddChatIndexes adds composite indexes for the hot chat queries:
// 1. Unread counting and mark-read (room_id, is_read, sender_id)
// 2. Room list per participant ordered by activity
//
// All statements are IF NOT EXISTS so re-runs are safe on both postgres and sqlite.
func Migration002AddChatIndexes() Migration {
	statements := []string{
		// WHERE room_id = ? AND sender_id <> ? AND is_read = false
		`CREATE INDEX IF NOT EXISTS idx_messages_room_unread ON messages (room_id, is_read, sender_id)`,
		// WHERE party_a_id = ? ORDER BY last_activity_at DESC
		`CREATE INDEX IF NOT EXISTS idx_rooms_party_a_activity ON rooms (party_a_id, last_activity_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_party_b_activity ON rooms (party_b_id, last_activity_at)`,
	}

	return Migration{
		ID:   "002_add_chat_indexes",
		Name: "Add composite indexes for unread and room list queries",
		Up: func(db *gorm.DB) error {
			for _, stmt := range statements {
				if err := db.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(db *gorm.DB) error {
			for _, idx := range []string{"idx_messages_room_unread", "idx_rooms_party_a_activity", "idx_rooms_party_b_activity"} {
				if err := db.Exec("DROP INDEX IF EXISTS " + idx).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
