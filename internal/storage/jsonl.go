package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sugawarayuuta/sonnet"

	"liquidityRebalancer/internal/model"
)

// JsonlStorage appends rebalance records to a JSONL file, one per line.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutRebalanceBatch appends a batch of records as JSON lines. Records already
// buffered when ctx is cancelled are still flushed.
func (s *JsonlStorage) PutRebalanceBatch(ctx context.Context, records []model.RebalanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	var encodeErr error
	for i, record := range records {
		if encodeErr = ctx.Err(); encodeErr != nil {
			break
		}
		if err := encoder.Encode(record); err != nil {
			encodeErr = fmt.Errorf("encode record %d (position %s): %w", i, record.PositionID, err)
			break
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return encodeErr
}

// ReadRebalances loads every record from a JSONL file.
func ReadRebalances(path string) ([]model.RebalanceRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var records []model.RebalanceRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record model.RebalanceRecord
		if err := sonnet.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return records, nil
}
