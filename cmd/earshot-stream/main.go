// Command earshot-stream is a development client that plays a WAV file into
// an earshot server as if it came from a device microphone. Audio is sent in
// real time, optionally Opus-encoded, and every signal the server pushes
// back (LED_ON, LED_OFF or an admin message) is printed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/opus"
)

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("url", "ws://localhost:8000/ws/audio", "websocket endpoint of the server")
	file := flag.String("file", "", "16-bit PCM WAV file to stream (required)")
	device := flag.String("device", "earshot-stream", "device name reported to the server")
	rate := flag.Int("rate", 16000, "sample rate the server expects")
	chunkMs := flag.Int("chunk-ms", 20, "audio per message in milliseconds (10, 20, 40 or 60 with -opus)")
	useOpus := flag.Bool("opus", false, "send Opus packets instead of raw PCM")
	tail := flag.Duration("tail", 2*time.Second, "silence appended after the file so the recording can end")
	wait := flag.Duration("wait", 5*time.Second, "how long to wait for signals after the audio is sent")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "earshot-stream: -file is required")
		flag.Usage()
		return 2
	}

	samples, err := loadWAV(*file, *rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot-stream: %v\n", err)
		return 1
	}
	samples = append(samples, make([]int16, int(tail.Seconds()*float64(*rate)))...)

	enc := encodePCM
	if *useOpus {
		oe, err := opus.NewEncoder(*rate, *chunkMs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "earshot-stream: %v\n", err)
			return 1
		}
		enc = oe.Encode
	}
	packets, err := packetize(samples, *rate**chunkMs/1000, enc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot-stream: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target, err := withDevice(*server, *device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot-stream: %v\n", err)
		return 1
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot-stream: dial %s: %v\n", target, err)
		return 1
	}
	defer conn.CloseNow()

	go printSignals(ctx, conn)

	fmt.Printf("streaming %s (%s, %d packets) to %s\n",
		*file, audio.Duration(len(samples), *rate).Round(time.Millisecond), len(packets), target)

	interval := time.Duration(*chunkMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, p := range packets {
		if err := conn.Write(ctx, websocket.MessageBinary, p); err != nil {
			fmt.Fprintf(os.Stderr, "earshot-stream: write: %v\n", err)
			return 1
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "interrupted")
			return 0
		}
	}

	select {
	case <-time.After(*wait):
	case <-ctx.Done():
	}
	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		fmt.Fprintf(os.Stderr, "earshot-stream: close: %v\n", err)
	}
	return 0
}

func loadWAV(path string, rate int) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, srcRate, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if srcRate != rate {
		samples = audio.Resample(samples, srcRate, rate)
	}
	return samples, nil
}

func encodePCM(samples []int16) ([]byte, error) {
	return audio.Int16ToBytes(samples), nil
}

// packetize splits samples into messages of size samples each, zero-padding
// the last one.
func packetize(samples []int16, size int, enc func([]int16) ([]byte, error)) ([][]byte, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	var out [][]byte
	for start := 0; start < len(samples); start += size {
		chunk := samples[start:min(start+size, len(samples))]
		if len(chunk) < size {
			chunk = append(append(make([]int16, 0, size), chunk...), make([]int16, size-len(chunk))...)
		}
		p, err := enc(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func withDevice(raw, device string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if device != "" {
		q := u.Query()
		q.Set("device", device)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func printSignals(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			switch s := websocket.CloseStatus(err); {
			case ctx.Err() != nil, s == websocket.StatusNormalClosure:
			case s == websocket.StatusGoingAway:
				fmt.Println("server is shutting down")
			default:
				fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
			}
			return
		}
		if typ == websocket.MessageText {
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05.000"), msg)
		}
	}
}
