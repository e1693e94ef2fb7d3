// Package models defines the typed views over the media-asset metadata
// records persisted by the metadata store. The on-disk record is an open
// JSON object so deployments can attach extra fields; the constants and
// types here cover the fixed core schema.
package models

import (
	"encoding/json"
	"time"
)

// Asset lifecycle states. Transitions are monotonic except that a failed
// transcode may be retried back toward StatusTranscoding.
const (
	StatusDraft           = "draft"
	StatusUploaded        = "uploaded"
	StatusTranscoding     = "transcoding"
	StatusTranscoded      = "transcoded"
	StatusTranscodeFailed = "transcode_failed"
)

// Field names of the fixed metadata schema. Anything outside this set is an
// open extension field carried through reads and writes untouched.
const (
	FieldAssetID           = "assetId"
	FieldOwnerID           = "ownerId"
	FieldOrganizationID    = "organizationId"
	FieldStatus            = "status"
	FieldOriginalSize      = "originalSize"
	FieldOriginalChecksum  = "originalChecksum"
	FieldOriginalFilename  = "originalFilename"
	FieldOriginalFile      = "originalFile"
	FieldDuration          = "duration"
	FieldWidth             = "width"
	FieldHeight            = "height"
	FieldRenditions        = "renditions"
	FieldChecksum          = "checksum"
	FieldVersion           = "version"
	FieldUpdatedAt         = "updatedAt"
	FieldUploadedAt        = "uploadedAt"
	FieldTranscodedAt      = "transcodedAt"
	FieldTranscodeDuration = "transcodeDuration"
	FieldTranscodeError    = "transcodeError"
	FieldAuthenticated     = "authenticated"
	FieldTokenID           = "tokenId"
)

// Asset is the typed projection of a metadata record.
type Asset struct {
	AssetID           string   `json:"assetId"`
	OwnerID           string   `json:"ownerId,omitempty"`
	OrganizationID    string   `json:"organizationId,omitempty"`
	Status            string   `json:"status"`
	OriginalSize      int64    `json:"originalSize,omitempty"`
	OriginalChecksum  string   `json:"originalChecksum,omitempty"`
	OriginalFilename  string   `json:"originalFilename,omitempty"`
	OriginalFile      string   `json:"originalFile,omitempty"`
	Duration          float64  `json:"duration,omitempty"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	Renditions        []string `json:"renditions,omitempty"`
	Checksum          string   `json:"checksum,omitempty"`
	UpdatedAt         string   `json:"updatedAt,omitempty"`
	UploadedAt        string   `json:"uploadedAt,omitempty"`
	TranscodedAt      string   `json:"transcodedAt,omitempty"`
	TranscodeDuration float64  `json:"transcodeDuration,omitempty"`
	TranscodeError    string   `json:"transcodeError,omitempty"`
	Authenticated     bool     `json:"authenticated,omitempty"`
	TokenID           string   `json:"tokenId,omitempty"`
}

// TranscodeJob is the unit of queued work handed from the upload finalizer
// to a transcode worker. The metadata snapshot is the record as it stood at
// enqueue time; workers reload the canonical record before mutating it.
type TranscodeJob struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	AssetID    string         `json:"assetId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// JobTypeTranscode is the only job type carried on the queue today.
const JobTypeTranscode = "transcode"

// AssetFromRecord decodes the open record into the typed Asset view. Unknown
// fields are dropped from the view but remain in the record itself.
func AssetFromRecord(record map[string]any) (Asset, error) {
	var asset Asset
	data, err := json.Marshal(record)
	if err != nil {
		return asset, err
	}
	if err := json.Unmarshal(data, &asset); err != nil {
		return asset, err
	}
	return asset, nil
}

// PublicRecord returns a copy of the record suitable for API responses: the
// internal integrity checksum is stripped, everything else passes through.
func PublicRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for key, value := range record {
		if key == FieldChecksum {
			continue
		}
		out[key] = value
	}
	return out
}
