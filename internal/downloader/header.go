package downloader

import "encoding/json"

// fileHeader is the first ljson line of every data file (spec.md §6.2).
type fileHeader struct {
	Type    string `json:"type"`
	Version struct {
		Major           int    `json:"major"`
		Minor           int    `json:"minor"`
		Patch           int    `json:"patch"`
		DatabaseVersion string `json:"databaseVersion,omitempty"`
		DateOfCreation  string `json:"dateOfCreation"`
	} `json:"version"`
	Records int `json:"records"`
}

func parseHeader(line []byte) (*fileHeader, error) {
	var h fileHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
