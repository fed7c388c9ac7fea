package player

import (
	"bytes"
	"context"
	"testing"
	"time"

	"tapedeck.dev/internal/codec"
)

func startStream(t *testing.T, p *Player) {
	t.Helper()
	ctx := context.Background()
	if err := p.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := p.StartFromStream(ctx, codec.CodecPCM16, true, 16000, 1, DefaultBlockSize); err != nil {
		t.Fatalf("start from stream failed: %v", err)
	}
	waitFor(t, "playing state", func() { return p.State() == StatePlaying })
}

func TestFeedWhenNotPlayingReturnsZero(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	defer p.Close(ctx)

	if err := p.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	n, err := p.Feed(ctx, make([]byte, 512))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("feed returned %d on a non-playing player, want 0", n)
	}
	eng.mu.Lock()
	feeds := len(eng.feeds)
	eng.mu.Unlock()
	if feeds != 0 {
		t.Fatal("engine contacted by feed on a non-playing player")
	}
}

func TestFeedSynchronousAcceptance(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestRig()
	defer p.Close(ctx)
	startStream(t, p)

	chunk := bytes.Repeat([]byte{0xAB}, 1024)
	n, err := p.Feed(ctx, chunk)
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if n != len(chunk) {
		t.Fatalf("feed accepted %d, want %d", n, len(chunk))
	}
}

func TestFeedSuspendsUntilDemand(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	eng.acceptScript = []int{0}
	defer p.Close(ctx)
	startStream(t, p)

	result := make(chan int, 1)
	go func() {
		n, err := p.Feed(ctx, make([]byte, 1024))
		if err != nil {
			t.Errorf("feed failed: %v", err)
		}
		result <- n
	}()

	waitFor(t, "feed submission", func() {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.feeds) == 1
	})

	// Still suspended: the engine buffer is full and no demand has arrived.
	select {
	case n := <-result:
		t.Fatalf("feed returned %d before the engine demanded data", n)
	case <-time.After(30 * time.Millisecond):
	}

	eng.port.NeedMoreData(4096)
	select {
	case n := <-result:
		if n != 4096 {
			t.Fatalf("feed returned %d, want the demanded 4096", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed never resumed after demand")
	}
}

func TestFeedConsumesStoredDemand(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	eng.acceptScript = []int{0}
	defer p.Close(ctx)
	startStream(t, p)

	// Demand arrives between feed calls; it must be stored, then consumed by
	// the next feed without suspending.
	eng.port.NeedMoreData(2048)
	waitFor(t, "stored demand", func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.pendingFood == 2048
	})

	n, err := p.Feed(ctx, make([]byte, 1024))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if n != 2048 {
		t.Fatalf("feed returned %d, want stored demand 2048", n)
	}
	p.mu.Lock()
	left := p.pendingFood
	p.mu.Unlock()
	if left != 0 {
		t.Fatalf("stored demand not cleared, pendingFood = %d", left)
	}
}

func TestFeedAllSlicesIntoBlocks(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	defer p.Close(ctx)
	startStream(t, p)

	buf := make([]byte, 20000)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := p.FeedAll(ctx, buf)
	if err != nil {
		t.Fatalf("feed all failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("feed all consumed %d, want %d", n, len(buf))
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	wantSizes := []int{8192, 8192, 3616}
	if len(eng.feeds) != len(wantSizes) {
		t.Fatalf("engine saw %d chunks, want %d", len(eng.feeds), len(wantSizes))
	}
	var joined []byte
	for i, chunk := range eng.feeds {
		if len(chunk) != wantSizes[i] {
			t.Fatalf("chunk %d is %d bytes, want %d", i, len(chunk), wantSizes[i])
		}
		joined = append(joined, chunk...)
	}
	if !bytes.Equal(joined, buf) {
		t.Fatal("chunks do not reassemble into the original buffer")
	}
}

func TestFeedAllTruncatesOnStop(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	// First block accepted in full, second leaves the feeder suspended.
	eng.acceptScript = []int{8192, 0}
	defer p.Close(ctx)
	startStream(t, p)

	result := make(chan int, 1)
	go func() {
		n, err := p.FeedAll(ctx, make([]byte, 20000))
		if err != nil {
			t.Errorf("feed all failed: %v", err)
		}
		result <- n
	}()

	waitFor(t, "second chunk submitted", func() {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.feeds) == 2
	})

	// Stop releases the suspended feeder with zero; the remainder is dropped
	// and truncation is not an error.
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	select {
	case n := <-result:
		if n != 8192 {
			t.Fatalf("feed all consumed %d after stop, want 8192", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed all never returned after stop")
	}
}

func TestSinksDrainInOrder(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	defer p.Close(ctx)
	startStream(t, p)

	sink, err := p.FeedSink()
	if err != nil {
		t.Fatalf("feed sink unavailable: %v", err)
	}
	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 100),
		bytes.Repeat([]byte{2}, 200),
		bytes.Repeat([]byte{3}, 300),
	}
	for _, c := range chunks {
		sink <- c
	}

	waitFor(t, "sink drained", func() {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.feeds) == len(chunks)
	})
	eng.mu.Lock()
	defer eng.mu.Unlock()
	for i, c := range chunks {
		if !bytes.Equal(eng.feeds[i], c) {
			t.Fatalf("chunk %d arrived out of order or corrupted", i)
		}
	}
}

func TestFoodSinkEventOrdering(t *testing.T) {
	ctx := context.Background()
	p, eng := newTestRig()
	defer p.Close(ctx)
	startStream(t, p)

	sink, err := p.FoodSink()
	if err != nil {
		t.Fatalf("food sink unavailable: %v", err)
	}

	fired := make(chan struct{})
	sink <- &FoodData{Data: bytes.Repeat([]byte{9}, 500)}
	sink <- &FoodEvent{On: func() { close(fired) }}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("food event never fired")
	}
	// The event only runs after the data queued ahead of it was consumed.
	eng.mu.Lock()
	feeds := len(eng.feeds)
	eng.mu.Unlock()
	if feeds != 1 {
		t.Fatalf("event fired with %d chunks consumed, want 1", feeds)
	}
}

func TestSinksUnavailableAfterStop(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestRig()
	defer p.Close(ctx)
	startStream(t, p)

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if _, err := p.FeedSink(); err == nil {
		t.Fatal("feed sink still available after stop")
	}
	if _, err := p.Float32Sink(); err == nil {
		t.Fatal("float32 sink still available after stop")
	}
	if _, err := p.Int16Sink(); err == nil {
		t.Fatal("int16 sink still available after stop")
	}
}
