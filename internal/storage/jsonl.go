package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rewardscope/internal/model"
)

// JsonlSink appends swap and mint records as JSON lines.
type JsonlSink struct {
	swapPath string
	mintPath string
	mu       sync.Mutex
}

func NewJsonlSink(swapPath, mintPath string) *JsonlSink {
	return &JsonlSink{swapPath: swapPath, mintPath: mintPath}
}

// PutSwapBatch appends a batch of swap records.
func (s *JsonlSink) PutSwapBatch(_ context.Context, swaps []model.SwapRecord) error {
	if len(swaps) == 0 || s.swapPath == "" {
		return nil
	}
	lines := make([]interface{}, len(swaps))
	for i := range swaps {
		lines[i] = swaps[i]
	}
	return s.appendLines(s.swapPath, lines)
}

// PutMintBatch appends a batch of mint records.
func (s *JsonlSink) PutMintBatch(_ context.Context, mints []model.MintRecord) error {
	if len(mints) == 0 || s.mintPath == "" {
		return nil
	}
	lines := make([]interface{}, len(mints))
	for i := range mints {
		lines[i] = mints[i]
	}
	return s.appendLines(s.mintPath, lines)
}

func (s *JsonlSink) appendLines(path string, records []interface{}) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
