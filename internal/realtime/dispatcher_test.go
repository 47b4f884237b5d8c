package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/models"
)

type fakeSender struct {
	nextID uint64
	err    error
}

func (f *fakeSender) Send(ctx context.Context, senderID, receiverID uint64, content string) (*chat.MessageView, error) {
	_ = ctx
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	return &chat.MessageView{
		ID:             f.nextID,
		ConversationID: "01TESTCONVERSATION00000000",
		Sender:         models.Profile{ID: senderID},
		Receiver:       models.Profile{ID: receiverID},
		Content:        content,
		Timestamp:      time.Now(),
	}, nil
}

func newTestDispatcher(svc MessageSender) (*Dispatcher, *Router, *TypingState) {
	router := NewRouter(nil)
	typing := NewTypingState()
	return NewDispatcher(router, typing, svc), router, typing
}

func decodeFrames(t *testing.T, raw [][]byte) []map[string]any {
	t.Helper()
	out := make([]map[string]any, len(raw))
	for i, b := range raw {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("frame %d not json: %v", i, err)
		}
		out[i] = m
	}
	return out
}

func frameTypes(frames []map[string]any) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func sendFrame(receiverID uint64, content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":        EventSendMessage,
		"receiver_id": receiverID,
		"content":     content,
	})
	return b
}

func TestDispatcher_SendFansOutAndAcksSenderOnly(t *testing.T) {
	d, router, _ := newTestDispatcher(&fakeSender{})
	ctx := context.Background()

	senderTab := newFakeSession(10, "sender-1")
	senderOther := newFakeSession(10, "sender-2")
	recipTab1 := newFakeSession(20, "recip-1")
	recipTab2 := newFakeSession(20, "recip-2")
	for _, s := range []Session{senderTab, senderOther, recipTab1, recipTab2} {
		router.Register(ctx, s)
	}

	d.HandleFrame(ctx, senderTab, sendFrame(20, "hello"))

	for _, recip := range []*fakeSession{recipTab1, recipTab2} {
		frames := decodeFrames(t, recip.received())
		if len(frames) != 1 || frames[0]["type"] != EventNewMessage {
			t.Fatalf("recipient session %s: expected one new-message, got %v", recip.ID(), frameTypes(frames))
		}
		msg := frames[0]["message"].(map[string]any)
		if msg["content"] != "hello" {
			t.Fatalf("wrong payload content: %v", msg["content"])
		}
	}

	senderFrames := decodeFrames(t, senderTab.received())
	if len(senderFrames) != 1 || senderFrames[0]["type"] != EventMessageSent {
		t.Fatalf("originating session: expected message-sent, got %v", frameTypes(senderFrames))
	}
	// Ack and fan-out must carry the identical canonical record.
	if senderFrames[0]["message"].(map[string]any)["id"] !=
		decodeFrames(t, recipTab1.received())[0]["message"].(map[string]any)["id"] {
		t.Fatalf("ack and delivery disagree on the message record")
	}

	if got := len(senderOther.received()); got != 0 {
		t.Fatalf("ack leaked to a non-originating sender session: %d frames", got)
	}
}

func TestDispatcher_OfflineRecipientDropsDelivery(t *testing.T) {
	d, router, _ := newTestDispatcher(&fakeSender{})
	ctx := context.Background()

	sender := newFakeSession(11, "s")
	router.Register(ctx, sender)

	d.HandleFrame(ctx, sender, sendFrame(21, "anyone there"))

	frames := decodeFrames(t, sender.received())
	if len(frames) != 1 || frames[0]["type"] != EventMessageSent {
		t.Fatalf("sender must still get the ack, got %v", frameTypes(frames))
	}
}

func TestDispatcher_SendOrderPreservedPerRecipient(t *testing.T) {
	d, router, _ := newTestDispatcher(&fakeSender{})
	ctx := context.Background()

	sender := newFakeSession(12, "s")
	recip := newFakeSession(22, "r")
	router.Register(ctx, sender)
	router.Register(ctx, recip)

	d.HandleFrame(ctx, sender, sendFrame(22, "x"))
	d.HandleFrame(ctx, sender, sendFrame(22, "y"))

	frames := decodeFrames(t, recip.received())
	if len(frames) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(frames))
	}
	first := frames[0]["message"].(map[string]any)["content"]
	second := frames[1]["message"].(map[string]any)["content"]
	if first != "x" || second != "y" {
		t.Fatalf("delivery order broken: %v then %v", first, second)
	}
}

func TestDispatcher_FailedSendEmitsErrorToSenderOnly(t *testing.T) {
	d, router, _ := newTestDispatcher(&fakeSender{err: chat.ErrContentTooLong})
	ctx := context.Background()

	sender := newFakeSession(13, "s")
	recip := newFakeSession(23, "r")
	router.Register(ctx, sender)
	router.Register(ctx, recip)

	d.HandleFrame(ctx, sender, sendFrame(23, "way too long"))

	if got := len(recip.received()); got != 0 {
		t.Fatalf("failed append must not reach the recipient, got %d frames", got)
	}
	frames := decodeFrames(t, sender.received())
	if len(frames) != 1 || frames[0]["type"] != EventError {
		t.Fatalf("expected error frame, got %v", frameTypes(frames))
	}
	if frames[0]["message"] != chat.ErrContentTooLong.Error() {
		t.Fatalf("validation detail lost: %v", frames[0]["message"])
	}
}

func TestDispatcher_StoreFailureHidesDetail(t *testing.T) {
	d, router, _ := newTestDispatcher(&fakeSender{err: errors.New("connection refused")})
	ctx := context.Background()

	sender := newFakeSession(14, "s")
	router.Register(ctx, sender)

	d.HandleFrame(ctx, sender, sendFrame(24, "hi"))

	frames := decodeFrames(t, sender.received())
	if len(frames) != 1 || frames[0]["type"] != EventError {
		t.Fatalf("expected error frame, got %v", frameTypes(frames))
	}
	if frames[0]["message"] != "failed to send message" {
		t.Fatalf("internal error detail leaked: %v", frames[0]["message"])
	}
}

func TestDispatcher_TypingFlow(t *testing.T) {
	d, router, typing := newTestDispatcher(&fakeSender{})
	ctx := context.Background()

	typist := newFakeSession(15, "t")
	target := newFakeSession(25, "r")
	router.Register(ctx, typist)
	router.Register(ctx, target)

	start, _ := json.Marshal(map[string]any{"type": EventTyping, "receiver_id": 25, "is_typing": true})
	stop, _ := json.Marshal(map[string]any{"type": EventStopTyping, "receiver_id": 25})

	d.HandleFrame(ctx, typist, start)
	if !typing.IsTyping(15, 25) {
		t.Fatalf("typing state not set")
	}

	d.HandleFrame(ctx, typist, stop)
	if typing.IsTyping(15, 25) {
		t.Fatalf("typing state not cleared")
	}

	frames := decodeFrames(t, target.received())
	types := frameTypes(frames)
	if len(types) != 2 || types[0] != EventTyping || types[1] != EventStopTyping {
		t.Fatalf("expected typing then stop-typing, got %v", types)
	}
	if frames[0]["sender_id"] != float64(15) || frames[0]["is_typing"] != true {
		t.Fatalf("typing frame wrong: %v", frames[0])
	}

	// No message was created anywhere in this exchange.
	if got := len(typist.received()); got != 0 {
		t.Fatalf("typing must not be acknowledged, got %d frames", got)
	}
}

func TestDispatcher_DisconnectClearsTypingOnLastSession(t *testing.T) {
	d, router, typing := newTestDispatcher(&fakeSender{})
	ctx := context.Background()

	tab1 := newFakeSession(16, "t1")
	tab2 := newFakeSession(16, "t2")
	router.Register(ctx, tab1)
	router.Register(ctx, tab2)

	start, _ := json.Marshal(map[string]any{"type": EventTyping, "receiver_id": 26, "is_typing": true})
	d.HandleFrame(ctx, tab1, start)

	d.HandleDisconnect(ctx, tab1)
	if !typing.IsTyping(16, 26) {
		t.Fatalf("typing cleared while another session remained")
	}

	d.HandleDisconnect(ctx, tab2)
	if typing.IsTyping(16, 26) {
		t.Fatalf("typing not cleared on last disconnect")
	}
}

func TestDispatcher_MalformedAndUnknownFrames(t *testing.T) {
	d, router, _ := newTestDispatcher(&fakeSender{})
	ctx := context.Background()

	sender := newFakeSession(17, "s")
	router.Register(ctx, sender)

	d.HandleFrame(ctx, sender, []byte("{not json"))
	d.HandleFrame(ctx, sender, []byte(`{"type":"presence-probe"}`))

	frames := decodeFrames(t, sender.received())
	if len(frames) != 2 {
		t.Fatalf("expected 2 error frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f["type"] != EventError {
			t.Fatalf("frame %d: expected error, got %v", i, f["type"])
		}
	}
}

func TestTypingState_ClearFromOnlyDropsTypist(t *testing.T) {
	typing := NewTypingState()
	typing.Set(1, 2, true)
	typing.Set(1, 3, true)
	typing.Set(4, 1, true)

	typing.ClearFrom(1)

	for _, probe := range []struct {
		from, to uint64
		want     bool
	}{
		{1, 2, false},
		{1, 3, false},
		{4, 1, true},
	} {
		if got := typing.IsTyping(probe.from, probe.to); got != probe.want {
			t.Fatalf("IsTyping(%d,%d)=%t, want %t", probe.from, probe.to, got, probe.want)
		}
	}
}
