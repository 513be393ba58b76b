package filedata

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/md5" //nolint:gosec // we're not using this weak algorithm for authentication, only for detecting file changes
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/flagpole-io/flagpole/internal/services"
)

const maxDecompressedFileSize = 1024 * 1024 * 100 // arbitrary 100MB limit to prevent decompression bombs

var gzipMagic = []byte{0x1f, 0x8b} //nolint:gochecknoglobals

type stateFile struct {
	doc      services.StateDocument
	checksum string
}

// readStateFile reads a state document that may be gzip-compressed. The checksum covers the
// uncompressed content, so recompressing an unchanged document does not cause another import.
func readStateFile(filePath string) (stateFile, error) {
	data, err := readStateFileContent(filePath)
	if err != nil {
		return stateFile{}, err
	}
	var doc services.StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return stateFile{}, errBadStateJSON(filePath, err)
	}
	if doc.Version > services.StateDocumentVersion {
		return stateFile{}, errUnsupportedVersion(doc.Version)
	}
	sum := md5.Sum(data) //nolint:gosec
	return stateFile{doc: doc, checksum: hex.EncodeToString(sum[:])}, nil
}

func readStateFileContent(filePath string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(filePath))
	if err != nil {
		return nil, errCannotOpenStateFile(filePath, err)
	}
	defer f.Close() //nolint:errcheck

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(len(gzipMagic)); bytes.Equal(magic, gzipMagic) {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errCannotOpenStateFile(filePath, err)
		}
		defer gr.Close() //nolint:errcheck
		r = gr
	}

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, maxDecompressedFileSize)
	if n >= maxDecompressedFileSize {
		return nil, errUncompressedFileTooBig(filePath, maxDecompressedFileSize)
	}
	if err != nil && err != io.EOF {
		return nil, errCannotOpenStateFile(filePath, err)
	}
	return buf.Bytes(), nil
}
