package broker

import (
	"sync"
	"testing"
)

func TestStreamWriteWithoutConnection(t *testing.T) {
	s := NewStream("wss://example.invalid/ws", "")
	if err := s.SubmitOrder("INRG", "BUY", 10); err == nil {
		t.Fatalf("order on a disconnected stream must fail")
	}
	if err := s.writeJSON(map[string]string{"op": "ping"}); err == nil {
		t.Fatalf("write on a disconnected stream must fail")
	}
}

func TestStreamConcurrentCloseAndWrite(t *testing.T) {
	s := NewStream("wss://example.invalid/ws", "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.writeJSON(map[string]string{"op": "ping"})
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	if s.IsConnected() {
		t.Fatalf("stream must stay disconnected")
	}
}
