package conversation

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/abgate/pkg/types"
)

func exchange(q, a string) []types.ChatMessage {
	return []types.ChatMessage{
		types.UserMessage(q),
		{Role: types.RoleAssistant, Content: a},
	}
}

func TestStore_AppendAndHistory(t *testing.T) {
	s := NewStore(Config{})
	assert.Empty(t, s.History("s1"))

	s.Append("s1", exchange("What is 2+2?", "4")...)
	s.Append("s1", exchange("And 3+3?", "6")...)

	got := s.History("s1")
	require.Len(t, got, 4)
	assert.Equal(t, "What is 2+2?", got[0].Content)
	assert.Equal(t, types.RoleAssistant, got[3].Role)
	assert.Equal(t, "6", got[3].Content)

	assert.Empty(t, s.History("s2"), "sessions are isolated")
	assert.Equal(t, 1, s.Len())
}

func TestStore_HistoryIsACopy(t *testing.T) {
	s := NewStore(Config{})
	s.Append("s1", exchange("q", "a")...)

	got := s.History("s1")
	got[0].Content = "mutated"
	_ = append(got, types.UserMessage("extra"))

	again := s.History("s1")
	require.Len(t, again, 2)
	assert.Equal(t, "q", again[0].Content)
}

func TestStore_CapDropsOldest(t *testing.T) {
	s := NewStore(Config{MaxMessages: 4})
	for i := 0; i < 5; i++ {
		s.Append("s1", exchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))...)
	}

	got := s.History("s1")
	require.Len(t, got, 4)
	assert.Equal(t, "q3", got[0].Content)
	assert.Equal(t, "a4", got[3].Content)
	assert.Equal(t, 4, s.MaxMessages())
}

func TestStore_Expiry(t *testing.T) {
	s := NewStore(Config{TTL: 20 * time.Millisecond})
	s.Append("s1", exchange("q", "a")...)
	require.Len(t, s.History("s1"), 2)

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, s.History("s1"))
}

func TestStore_StartUsesPendingTTL(t *testing.T) {
	s := NewStore(Config{TTL: time.Minute, PendingTTL: 20 * time.Millisecond})
	s.Start("once", exchange("q", "a")...)
	s.Start("echoed", exchange("q", "a")...)
	s.Append("echoed", exchange("q2", "a2")...)
	require.Len(t, s.History("once"), 2)

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, s.History("once"), "unconfirmed session expires early")
	assert.Len(t, s.History("echoed"), 4, "echoed session gets the full ttl")
}

func TestStore_PendingTTLCappedByTTL(t *testing.T) {
	s := NewStore(Config{TTL: 20 * time.Millisecond, PendingTTL: time.Hour})
	s.Start("s1", exchange("q", "a")...)

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, s.History("s1"))
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(Config{})
	s.Append("s1", exchange("q", "a")...)
	s.Reset("s1")
	assert.Empty(t, s.History("s1"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_AppendNothing(t *testing.T) {
	s := NewStore(Config{})
	s.Append("s1")
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := NewStore(Config{MaxMessages: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.Append("shared", exchange("q", "a")...)
				_ = s.History("shared")
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.History("shared"), 200)
}

func TestSessionIDFromRequest(t *testing.T) {
	valid := uuid.NewString()

	tests := []struct {
		name          string
		header        string
		wantGenerated bool
		want          string
	}{
		{name: "valid", header: valid, want: valid},
		{name: "uppercase is canonicalized", header: "  " + strings.ToUpper(valid) + " ", want: valid},
		{name: "missing", header: "", wantGenerated: true},
		{name: "malformed", header: "not-a-uuid", wantGenerated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/ask_question", nil)
			if tt.header != "" {
				r.Header.Set(HeaderSessionID, tt.header)
			}

			id, generated := SessionIDFromRequest(r)
			assert.Equal(t, tt.wantGenerated, generated)
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
			if tt.want != "" {
				assert.Equal(t, tt.want, id)
			}
		})
	}
}

