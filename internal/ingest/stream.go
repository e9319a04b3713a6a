// File path: internal/ingest/stream.go
package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/assetlens/unitylog/internal/store"
)

// Kind tags one batch of typed records in the parser's event stream.
type Kind string

const (
	KindMetadata           Kind = "metadata"
	KindAssetImports       Kind = "asset_imports"
	KindPipelineRefreshes  Kind = "pipeline_refreshes"
	KindOperations         Kind = "operations"
	KindCacheServerBlocks  Kind = "cache_server_blocks"
	KindWorkerThreadPhases Kind = "worker_thread_phases"
	KindLogLines           Kind = "log_lines"
	KindComplete           Kind = "complete"
)

// EventSet accumulates every batch of a parse, keyed by kind. Batches may
// arrive in any order; the set is complete once the terminal marker has
// been seen.
type EventSet struct {
	Metadata           *store.SessionMetadata
	AssetImports       []store.AssetImport
	PipelineRefreshes  []store.PipelineRefresh
	Operations         []store.Operation
	CacheServerBlocks  []store.CacheServerBlock
	WorkerThreadPhases []store.WorkerThreadPhase
	LogLines           []store.LogLine
}

// TotalRecords counts every record in the set, excluding metadata.
func (s *EventSet) TotalRecords() int {
	return len(s.AssetImports) + len(s.PipelineRefreshes) + len(s.Operations) +
		len(s.CacheServerBlocks) + len(s.WorkerThreadPhases) + len(s.LogLines)
}

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// maxLineBytes bounds a single NDJSON envelope; log-line batches of a few
// thousand rows fit comfortably.
const maxLineBytes = 64 << 20

// ReadStream decodes a newline-delimited stream of typed event batches into
// an EventSet. Each line is an envelope {"type": kind, "data": [...]}; the
// stream ends with {"type":"complete"}. A stream that ends without the
// terminal marker is a structural error.
func ReadStream(r io.Reader) (*EventSet, error) {
	set := &EventSet{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	complete := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return nil, fmt.Errorf("decode event envelope at line %d: %w", lineNo, err)
		}
		if env.Type == KindComplete {
			complete = true
			break
		}
		if err := set.add(env); err != nil {
			return nil, fmt.Errorf("decode %s batch at line %d: %w", env.Type, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if !complete {
		return nil, errors.New("event stream ended before complete marker")
	}
	return set, nil
}

// add decodes one envelope into the matching typed slice. Unknown kinds are
// rejected at the boundary rather than carried as loose maps.
func (s *EventSet) add(env envelope) error {
	switch env.Type {
	case KindMetadata:
		meta := &store.SessionMetadata{}
		if err := unmarshalOne(env.Data, meta); err != nil {
			return err
		}
		s.Metadata = meta
	case KindAssetImports:
		var batch []store.AssetImport
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return err
		}
		s.AssetImports = append(s.AssetImports, batch...)
	case KindPipelineRefreshes:
		var batch []store.PipelineRefresh
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return err
		}
		s.PipelineRefreshes = append(s.PipelineRefreshes, batch...)
	case KindOperations:
		var batch []store.Operation
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return err
		}
		s.Operations = append(s.Operations, batch...)
	case KindCacheServerBlocks:
		var batch []store.CacheServerBlock
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return err
		}
		s.CacheServerBlocks = append(s.CacheServerBlocks, batch...)
	case KindWorkerThreadPhases:
		var batch []store.WorkerThreadPhase
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return err
		}
		s.WorkerThreadPhases = append(s.WorkerThreadPhases, batch...)
	case KindLogLines:
		var batch []store.LogLine
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return err
		}
		s.LogLines = append(s.LogLines, batch...)
	default:
		return fmt.Errorf("unknown batch kind %q", env.Type)
	}
	return nil
}

// unmarshalOne accepts either a bare object or a single-element array, both
// of which parsers emit for the metadata record.
func unmarshalOne(data json.RawMessage, dest interface{}) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if len(raw) == 0 {
			return errors.New("empty metadata batch")
		}
		return json.Unmarshal(raw[0], dest)
	}
	return json.Unmarshal(data, dest)
}
