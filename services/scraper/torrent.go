package scraper

import (
	"fmt"

	"github.com/IncSW/go-bencode"
	"github.com/gabriel-vasile/mimetype"
)

// torrentMeta is what the download variant needs from a .torrent file.
type torrentMeta struct {
	Name string
	Size int64
}

// parseTorrent verifies that data really is a bencoded torrent and pulls the
// payload name and total size out of its info dictionary.
func parseTorrent(data []byte) (*torrentMeta, error) {
	if mt := mimetype.Detect(data); !mt.Is("application/x-bittorrent") {
		return nil, fmt.Errorf("not a torrent file (%s)", mt.String())
	}

	decoded, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode torrent: %w", err)
	}
	root, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("torrent root is not a dictionary")
	}
	info, ok := root["info"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("torrent has no info dictionary")
	}

	meta := &torrentMeta{}
	if name, ok := info["name"].([]byte); ok {
		meta.Name = string(name)
	}

	switch {
	case info["length"] != nil:
		if length, ok := info["length"].(int64); ok {
			meta.Size = length
		}
	case info["files"] != nil:
		files, ok := info["files"].([]interface{})
		if !ok {
			break
		}
		for _, f := range files {
			fd, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			if length, ok := fd["length"].(int64); ok {
				meta.Size += length
			}
		}
	}

	if meta.Name == "" {
		return nil, fmt.Errorf("torrent info has no name")
	}
	return meta, nil
}
