package segment

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	dataFileName  = "documents.dat"
	indexFileName = "documents.idx"
	metaFileName  = "meta.json"
	dirMode       = 0o755
	fileMode      = 0o644
)

// writeTemp atomically writes data under dir/name via a temp-file-then-
// rename so a crash mid-write never leaves a partial sealed file visible.
func writeTemp(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, name))
}

// writeSealedFiles compresses the raw document stream and writes the data,
// index and meta files for a newly sealed segment.
func writeSealedFiles(dir string, raw []byte, index []IndexEntry, meta Meta) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	if err := writeTemp(dir, dataFileName, compressed); err != nil {
		return err
	}

	idxBytes, err := msgpack.Marshal(index)
	if err != nil {
		return err
	}
	if err := writeTemp(dir, indexFileName, idxBytes); err != nil {
		return err
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return writeTemp(dir, metaFileName, metaBytes)
}

func readSealedFiles(dir string) (raw []byte, index []IndexEntry, meta Meta, err error) {
	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, nil, Meta{}, ErrSegmentNotSealed
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, Meta{}, err
	}

	compressed, err := os.ReadFile(filepath.Join(dir, dataFileName))
	if err != nil {
		return nil, nil, Meta{}, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, Meta{}, err
	}
	defer dec.Close()
	raw, err = dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, Meta{}, err
	}

	idxBytes, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, nil, Meta{}, err
	}
	if err := msgpack.Unmarshal(idxBytes, &index); err != nil {
		return nil, nil, Meta{}, err
	}

	return raw, index, meta, nil
}
