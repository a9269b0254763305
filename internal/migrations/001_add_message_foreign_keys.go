package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

type foreignKey struct {
	name     string
	table    string
	column   string
	refs     string
	onDelete string
}

// Tables are auto-migrated without constraints because messages and
// attachments point at each other. The constraints are added here once both
// tables exist. SQLite cannot add constraints to existing tables, so this is
// a no-op there.
var chatForeignKeys = []foreignKey{
	{"fk_messages_room", "messages", "room_id", "rooms(id)", "RESTRICT"},
	{"fk_messages_reply_to", "messages", "reply_to_id", "messages(id)", "SET NULL"},
	{"fk_messages_attachment", "messages", "attachment_id", "attachments(id)", "SET NULL"},
	{"fk_attachments_room", "attachments", "room_id", "rooms(id)", "RESTRICT"},
}

// Migration001AddMessageForeignKeys adds the room, reply and attachment constraints on messages
func Migration001AddMessageForeignKeys() Migration {
	return Migration{
		ID:   "001_add_message_foreign_keys",
		Name: "Add foreign keys for message rooms, replies and attachments",
		Up: func(db *gorm.DB) error {
			if db.Dialector.Name() != "postgres" {
				return nil
			}

			// Orphaned replies would make the constraint fail
			cleanupSQL := `
				UPDATE messages
				SET reply_to_id = NULL
				WHERE reply_to_id IS NOT NULL
				AND reply_to_id NOT IN (SELECT id FROM messages)
			`
			if err := db.Exec(cleanupSQL).Error; err != nil {
				return err
			}

			for _, fk := range chatForeignKeys {
				var count int64
				checkSQL := `
					SELECT COUNT(*)
					FROM information_schema.table_constraints
					WHERE constraint_name = ? AND table_name = ?
				`
				if err := db.Raw(checkSQL, fk.name, fk.table).Scan(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					continue
				}

				addFKSQL := fmt.Sprintf(
					"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s ON DELETE %s",
					fk.table, fk.name, fk.column, fk.refs, fk.onDelete,
				)
				if err := db.Exec(addFKSQL).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(db *gorm.DB) error {
			if db.Dialector.Name() != "postgres" {
				return nil
			}
			for _, fk := range chatForeignKeys {
				if err := db.Exec(fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", fk.table, fk.name)).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
