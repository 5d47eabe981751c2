package snapshot

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/nexuts-io/nexuts/internal/mergetree"
	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// file is the on-disk shape of a snapshot: the BFS node list plus the
// version watermarks needed to pick up WAL replay from the right point
// (spec §4.3 step 4/5, §5 "Recovery").
type file struct {
	GlobalVersion uint64                   `json:"global_version"`
	FinishedVersion uint64                 `json:"finished_version"`
	Nodes           []mergetree.SnapshotNode `json:"nodes"`
}

func encode(f file) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, nexerr.Validation("snapshot.encode", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, nexerr.Fatal("snapshot.encode", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decode(compressed []byte) (file, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return file{}, nexerr.Corruption("snapshot.decode", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return file{}, nexerr.Corruption("snapshot.decode", err)
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return file{}, nexerr.Corruption("snapshot.decode", err)
	}
	return f, nil
}
