// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torbox

import "encoding/json"

// Torrent is one item of the account as returned by /torrents/mylist.
// Timestamps are kept as the raw strings the API sends.
type Torrent struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Hash            string  `json:"hash"`
	Active          bool    `json:"active"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	CachedAt        *string `json:"cached_at,omitempty"`
	ExpiresAt       *string `json:"expires_at,omitempty"`
	DownloadState   string  `json:"download_state"`
	Seeds           int64   `json:"seeds"`
	Peers           int64   `json:"peers"`
	DownloadSpeed   int64   `json:"download_speed"`
	UploadSpeed     int64   `json:"upload_speed"`
	Ratio           float64 `json:"ratio"`
	Progress        float64 `json:"progress"`
	ETA             int64   `json:"eta"`
	Availability    float64 `json:"availability"`
	TotalUploaded   int64   `json:"total_uploaded"`
	TotalDownloaded int64   `json:"total_downloaded"`
	Size            int64   `json:"size"`

	DownloadFinished bool    `json:"download_finished"`
	DownloadPresent  bool    `json:"download_present"`
	Cached           bool    `json:"cached"`
	Private          bool    `json:"private"`
	LongTermSeeding  bool    `json:"long_term_seeding"`
	SeedTorrent      bool    `json:"seed_torrent"`
	TorrentFile      bool    `json:"torrent_file"`
	AllowZipped      bool    `json:"allow_zipped"`
	Magnet           *string `json:"magnet,omitempty"`
}

// Operations accepted by /torrents/controltorrent.
const (
	OperationStopSeeding = "stop_seeding"
	OperationDelete      = "delete"
	OperationStop        = "stop"
	OperationResume      = "resume"
	OperationRestart     = "restart"
	OperationReannounce  = "reannounce"
	OperationStart       = "start"
)

type controlRequest struct {
	TorrentID int64  `json:"torrent_id"`
	Operation string `json:"operation"`
	All       bool   `json:"all"`
}

type envelope struct {
	Success bool            `json:"success"`
	Error   *string         `json:"error"`
	Detail  string          `json:"detail"`
	Data    json.RawMessage `json:"data"`
}
