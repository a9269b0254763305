package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestSendMessage_UpdatesRecipientCounter(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")

	msg := f.sendText(t, room.ID, "u1", "Hello doctor")
	assert.Equal(t, int64(1), msg.Seq)
	assert.False(t, msg.IsRead)
	assert.Equal(t, "Hello doctor", msg.Content)

	reloaded := f.reloadRoom(t, room.ID)
	assert.Equal(t, int64(0), reloaded.UnreadA)
	assert.Equal(t, int64(1), reloaded.UnreadB)
	assert.Equal(t, int64(1), reloaded.LastSeq)
	assert.False(t, reloaded.LastActivityAt.Before(room.LastActivityAt))

	events := f.broadcaster.byEvent(EventNewMessage)
	require.Len(t, events, 1)
	assert.Equal(t, room.ID, events[0].RoomID)
	payload := events[0].Payload.(NewMessageEvent)
	assert.Equal(t, msg.ID, payload.Message.ID)
}

func TestSendMessage_SenderRoleIsStoredAsGiven(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")

	msg, err := f.coord.SendMessage(context.Background(), SendInput{
		RoomID: room.ID, SenderID: "u2", SenderRole: models.RoleDoctor, Content: "Take two a day",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleDoctor, msg.SenderRole)
	assert.Equal(t, models.KindText, msg.Kind, "kind defaults to text")
}

func TestSendMessage_Validation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "u1", "u2")
	other := f.directRoom(t, "u3", "u4")
	foreign := f.sendText(t, other.ID, "u3", "elsewhere")

	cases := []struct {
		name string
		in   SendInput
		want error
	}{
		{"empty text", SendInput{Kind: models.KindText, Content: "   "}, ErrInvalidMessage},
		{"unknown kind", SendInput{Kind: "video", Content: "x"}, ErrInvalidMessage},
		{"text with attachment", SendInput{Kind: models.KindText, Content: "x", AttachmentID: "a1"}, ErrInvalidMessage},
		{"file without attachment", SendInput{Kind: models.KindFile}, ErrInvalidMessage},
		{"image with unknown attachment", SendInput{Kind: models.KindImage, AttachmentID: "missing"}, ErrInvalidMessage},
		{"reply into another room", SendInput{Kind: models.KindText, Content: "re", ReplyToID: foreign.ID}, ErrInvalidMessage},
		{"too long", SendInput{Kind: models.KindText, Content: string(bytes.Repeat([]byte("a"), MaxMessageLength+1))}, ErrInvalidMessage},
		{"system kind from a participant", SendInput{Kind: models.KindSystem, Content: "Consultation closed by doctor"}, ErrInvalidMessage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			in.RoomID = room.ID
			in.SenderID = "u1"
			_, err := f.coord.SendMessage(ctx, in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Nothing was persisted and the counters never moved
	count, err := f.store.CountMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	f.requireCountersMatchLog(t, room.ID)
}

func TestSendMessage_ReplyInSameRoom(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")
	first := f.sendText(t, room.ID, "u1", "How are you feeling?")

	reply, err := f.coord.SendMessage(context.Background(), SendInput{
		RoomID: room.ID, SenderID: "u2", Content: "Better, thanks", ReplyToID: first.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, first.ID, *reply.ReplyToID)
}

func TestSendMessage_SanitizesContent(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")

	msg := f.sendText(t, room.ID, "u1", `hi <script>alert(1)</script>there`)
	assert.Equal(t, "hi there", msg.Content)
}

func TestThirdPartyIsDeniedEverywhere(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "u1", "u2")
	createUser(t, f.db, "intruder", models.RolePatient)
	msg := f.sendText(t, room.ID, "u1", "private")

	_, err := f.coord.SendMessage(ctx, SendInput{RoomID: room.ID, SenderID: "intruder", Content: "hi"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.coord.MarkRead(ctx, room.ID, "intruder")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.coord.UploadAttachment(ctx, UploadInput{
		RoomID: room.ID, SenderID: "intruder", FileName: "x.txt", MimeType: "text/plain",
		Size: 2, Body: bytes.NewReader([]byte("hi")),
	})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.coord.CloseRoom(ctx, room.ID, "intruder")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.rooms.GetRoomFor(ctx, room.ID, "intruder")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.coord.AnnounceAttachment(ctx, room.ID, "intruder", "whatever")
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Nothing changed
	reloaded := f.reloadRoom(t, room.ID)
	assert.Equal(t, models.RoomActive, reloaded.Status)
	assert.Equal(t, int64(1), reloaded.UnreadB)
	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRead)
}

func TestSendMessage_UnknownRoom(t *testing.T) {
	f := newChatFixture(t)
	_, err := f.coord.SendMessage(context.Background(), SendInput{RoomID: "nope", SenderID: "u1", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage_BroadcastFailureIsSwallowed(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")
	f.broadcaster.err = errors.New("transport down")

	msg, err := f.coord.SendMessage(context.Background(), SendInput{RoomID: room.ID, SenderID: "u1", Content: "still here"})
	require.NoError(t, err)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "still here", stored.Content)
	assert.Equal(t, int64(1), f.reloadRoom(t, room.ID).UnreadB)
}

func TestSendMessage_StorageFailureLeavesNoPartialState(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")
	f.sendText(t, room.ID, "u1", "one")

	// A message with a colliding sequence number makes the insert fail inside the transaction
	require.NoError(t, f.db.Create(&models.Message{
		ID: "ghost", RoomID: room.ID, Seq: 2, SenderID: "u2", Kind: models.KindText, Content: "ghost",
	}).Error)

	_, err := f.coord.SendMessage(context.Background(), SendInput{RoomID: room.ID, SenderID: "u1", Content: "two"})
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, "internal error", Reason(err))

	reloaded := f.reloadRoom(t, room.ID)
	assert.Equal(t, int64(1), reloaded.LastSeq)
	assert.Equal(t, int64(1), reloaded.UnreadB)

	var count int64
	f.db.Model(&models.Message{}).Where("room_id = ? AND content = ?", room.ID, "two").Count(&count)
	assert.Zero(t, count)
	assert.Len(t, f.broadcaster.byEvent(EventNewMessage), 1)
}

func TestMarkRead(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "u1", "u2")
	f.sendText(t, room.ID, "u1", "a")
	f.sendText(t, room.ID, "u1", "b")
	f.sendText(t, room.ID, "u2", "c")

	receipt, err := f.coord.MarkRead(ctx, room.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), receipt.Count)
	assert.Equal(t, "u2", receipt.ReaderID)

	reloaded := f.reloadRoom(t, room.ID)
	assert.Equal(t, int64(0), reloaded.UnreadB)
	assert.Equal(t, int64(1), reloaded.UnreadA, "reading only clears the reader's side")
	f.requireCountersMatchLog(t, room.ID)

	reads := f.broadcaster.byEvent(EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, "u2", reads[0].Payload.(*ReadReceipt).ReaderID)
}

func TestMarkRead_IsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "u1", "u2")
	f.sendText(t, room.ID, "u1", "a")

	_, err := f.coord.MarkRead(ctx, room.ID, "u2")
	require.NoError(t, err)

	var before []models.Message
	require.NoError(t, f.db.Order("seq").Find(&before, "room_id = ?", room.ID).Error)
	roomBefore := f.reloadRoom(t, room.ID)

	receipt, err := f.coord.MarkRead(ctx, room.ID, "u2")
	require.NoError(t, err)
	assert.Zero(t, receipt.Count)

	var after []models.Message
	require.NoError(t, f.db.Order("seq").Find(&after, "room_id = ?", room.ID).Error)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].IsRead, after[i].IsRead)
		require.NotNil(t, after[i].ReadAt)
		assert.True(t, before[i].ReadAt.Equal(*after[i].ReadAt), "second call must not touch readAt")
	}
	assert.Equal(t, roomBefore.UnreadA, f.reloadRoom(t, room.ID).UnreadA)
	assert.Equal(t, roomBefore.UnreadB, f.reloadRoom(t, room.ID).UnreadB)
	assert.Len(t, f.broadcaster.byEvent(EventMessagesRead), 1, "no receipt when nothing changed")
}

func TestConcurrentSendsKeepCountersInSync(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")

	const perSide = 20
	var wg sync.WaitGroup
	send := func(sender string, i int) {
		defer wg.Done()
		_, err := f.coord.SendMessage(context.Background(), SendInput{
			RoomID: room.ID, SenderID: sender, Content: fmt.Sprintf("%s-%d", sender, i),
		})
		assert.NoError(t, err)
	}
	for i := 0; i < perSide; i++ {
		wg.Add(2)
		go send("u1", i)
		go send("u2", i)
	}
	// Reads interleave with the sends
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.MarkRead(context.Background(), room.ID, "u2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := f.store.CountMessages(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*perSide), count)
	f.requireCountersMatchLog(t, room.ID)

	// Sequence numbers are dense and unique
	var seqs []int64
	require.NoError(t, f.db.Model(&models.Message{}).Where("room_id = ?", room.ID).Order("seq").Pluck("seq", &seqs).Error)
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}
	assert.Equal(t, int64(2*perSide), f.reloadRoom(t, room.ID).LastSeq)
}

func TestConcurrentSendAndUploadShareRoomLock(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.SendMessage(context.Background(), SendInput{RoomID: room.ID, SenderID: "u1", Content: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			body := []byte(fmt.Sprintf("report %d", i))
			_, err := f.coord.UploadAttachment(context.Background(), UploadInput{
				RoomID: room.ID, SenderID: "u1", FileName: fmt.Sprintf("r%d.txt", i),
				MimeType: "text/plain", Size: int64(len(body)), Body: bytes.NewReader(body),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reloaded := f.reloadRoom(t, room.ID)
	assert.Equal(t, int64(20), reloaded.UnreadB)
	f.requireCountersMatchLog(t, room.ID)
	assert.Equal(t, 10, f.blobs.count())
}

func TestSendAndUploadWaitForHeldRoom(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "u1", "u2")

	unlock := f.coord.locks.Lock(room.ID)

	sent := make(chan error, 1)
	uploaded := make(chan error, 1)
	go func() {
		_, err := f.coord.SendMessage(ctx, SendInput{RoomID: room.ID, SenderID: "u1", Content: "queued"})
		sent <- err
	}()
	go func() {
		body := []byte("lab results")
		_, err := f.coord.UploadAttachment(ctx, UploadInput{
			RoomID: room.ID, SenderID: "u2", FileName: "labs.txt",
			MimeType: "text/plain", Size: int64(len(body)), Body: bytes.NewReader(body),
		})
		uploaded <- err
	}()

	assert.Never(t, func() bool {
		return len(sent) > 0 || len(uploaded) > 0
	}, 200*time.Millisecond, 10*time.Millisecond, "a write committed while the room was held")
	assert.Equal(t, int64(0), f.reloadRoom(t, room.ID).LastSeq)
	count, err := f.store.CountMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	unlock()
	for _, done := range []chan error{sent, uploaded} {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("write still blocked after the room was released")
		}
	}

	reloaded := f.reloadRoom(t, room.ID)
	assert.Equal(t, int64(2), reloaded.LastSeq)
	assert.Equal(t, int64(1), reloaded.UnreadA)
	assert.Equal(t, int64(1), reloaded.UnreadB)
	f.requireCountersMatchLog(t, room.ID)
}

func TestSendMessage_ServerOriginatedSystemMessage(t *testing.T) {
	f := newChatFixture(t)
	room := f.directRoom(t, "u1", "u2")

	msg, err := f.coord.SendMessage(context.Background(), SendInput{
		RoomID: room.ID, SenderID: "u2", Kind: models.KindSystem,
		Content: "Consultation closed by doctor", ServerOriginated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindSystem, msg.Kind)
	assert.Equal(t, int64(1), f.reloadRoom(t, room.ID).UnreadA)
}

func TestLockRoomRow(t *testing.T) {
	var room models.Room
	query := func(tx *gorm.DB) *gorm.DB {
		return lockRoomRow(tx).First(&room, "id = ?", "r1")
	}

	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=chat dbname=chat sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	assert.Contains(t, pg.ToSQL(query), "FOR UPDATE")

	lite := setupTestDB(t)
	assert.NotContains(t, lite.ToSQL(query), "FOR UPDATE")
}

func TestScenario_DirectRoomLifecycle(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	f.coord.now = fixedClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	room := f.directRoom(t, "U1", "U2")

	for _, text := range []string{"first", "second", "third"} {
		f.sendText(t, room.ID, "U1", text)
	}
	r := f.reloadRoom(t, room.ID)
	assert.Equal(t, int64(3), r.UnreadB)
	assert.Equal(t, int64(0), r.UnreadA)

	_, err := f.coord.MarkRead(ctx, room.ID, "U2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.reloadRoom(t, room.ID).UnreadB)
	var unread int64
	f.db.Model(&models.Message{}).Where("room_id = ? AND is_read = ?", room.ID, false).Count(&unread)
	assert.Zero(t, unread)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 5<<20-8)...)
	img, err := f.coord.UploadAttachment(ctx, UploadInput{
		RoomID: room.ID, SenderID: "U2", SenderRole: models.RoleDoctor,
		FileName: "scan.png", MimeType: "image/png", Size: int64(len(png)), Body: bytes.NewReader(png),
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindImage, img.Kind)
	assert.Equal(t, int64(1), f.reloadRoom(t, room.ID).UnreadA)

	page, err := f.store.ListMessages(ctx, room.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "third", page[0].Content)
	assert.Equal(t, img.ID, page[1].ID)
	require.NotNil(t, page[1].Attachment)
	assert.Equal(t, "scan.png", page[1].Attachment.OriginalName)

	f.requireCountersMatchLog(t, room.ID)
}
