package telegram

import "testing"

func drain(t *testing.T, tg *Telegram) []Inbound {
	t.Helper()
	var got []Inbound
	for {
		select {
		case in := <-tg.updates:
			got = append(got, in)
		default:
			return got
		}
	}
}

func TestProcessUpdateText(t *testing.T) {
	tg := New(Config{Token: "test"}, nil)
	tg.processUpdate(tgUpdate{
		UpdateID: 1,
		Message: &tgMessage{
			MessageID: 42,
			From:      &tgUser{ID: 7, Username: "alice"},
			Chat:      tgChat{ID: 100, Type: "group"},
			Text:      "hello",
		},
	})

	got := drain(t, tg)
	if len(got) != 1 {
		t.Fatalf("expected 1 inbound, got %d", len(got))
	}
	in := got[0]
	if in.ChatID != 100 || in.UserID != 7 || in.Username != "alice" || in.MessageID != 42 || in.Text != "hello" {
		t.Errorf("unexpected inbound: %+v", in)
	}
	if in.PhotoFileID != "" {
		t.Errorf("text message must not carry a photo: %+v", in)
	}
}

func TestProcessUpdatePhotoUsesLargestSize(t *testing.T) {
	tg := New(Config{Token: "test"}, nil)
	tg.processUpdate(tgUpdate{
		Message: &tgMessage{
			MessageID: 5,
			From:      &tgUser{ID: 7, FirstName: "Bob", LastName: "Jones"},
			Chat:      tgChat{ID: 100},
			Caption:   "look at this",
			Photo: []tgPhoto{
				{FileID: "small", Width: 90},
				{FileID: "large", Width: 800},
			},
		},
	})

	got := drain(t, tg)
	if len(got) != 1 {
		t.Fatalf("expected 1 inbound, got %d", len(got))
	}
	if got[0].PhotoFileID != "large" {
		t.Errorf("photo file id = %q, want largest size", got[0].PhotoFileID)
	}
	if got[0].Text != "look at this" {
		t.Errorf("caption = %q", got[0].Text)
	}
	if got[0].Username != "Bob Jones" {
		t.Errorf("username fallback = %q", got[0].Username)
	}
}

func TestProcessUpdateFilters(t *testing.T) {
	tg := New(Config{Token: "test", AllowedChats: []int64{1}}, nil)

	// Disallowed chat.
	tg.processUpdate(tgUpdate{Message: &tgMessage{
		From: &tgUser{ID: 7}, Chat: tgChat{ID: 2}, Text: "hi",
	}})
	// Message from another bot.
	tg.processUpdate(tgUpdate{Message: &tgMessage{
		From: &tgUser{ID: 8, IsBot: true}, Chat: tgChat{ID: 1}, Text: "hi",
	}})
	// No text and no photo (sticker etc).
	tg.processUpdate(tgUpdate{Message: &tgMessage{
		From: &tgUser{ID: 7}, Chat: tgChat{ID: 1},
	}})
	// Empty update.
	tg.processUpdate(tgUpdate{})

	if got := drain(t, tg); len(got) != 0 {
		t.Errorf("expected all updates filtered, got %+v", got)
	}
}
