package models

import "testing"

func TestAssetFromRecord(t *testing.T) {
	record := map[string]any{
		FieldAssetID:    "a1",
		FieldStatus:     StatusTranscoded,
		FieldWidth:      1920,
		FieldHeight:     1080,
		FieldDuration:   12.5,
		FieldRenditions: []any{"240p", "360p"},
		"customField":   "kept in record, not in view",
	}
	asset, err := AssetFromRecord(record)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if asset.AssetID != "a1" || asset.Status != StatusTranscoded {
		t.Fatalf("asset = %+v", asset)
	}
	if asset.Width != 1920 || asset.Height != 1080 || asset.Duration != 12.5 {
		t.Fatalf("probe fields = %+v", asset)
	}
	if len(asset.Renditions) != 2 || asset.Renditions[0] != "240p" {
		t.Fatalf("renditions = %v", asset.Renditions)
	}
}

func TestPublicRecordStripsChecksum(t *testing.T) {
	record := map[string]any{
		FieldAssetID:  "a1",
		FieldChecksum: "deadbeef",
		"title":       "clip",
	}
	public := PublicRecord(record)
	if _, present := public[FieldChecksum]; present {
		t.Fatal("checksum not stripped")
	}
	if public["title"] != "clip" || public[FieldAssetID] != "a1" {
		t.Fatalf("public record = %v", public)
	}
	if _, present := record[FieldChecksum]; !present {
		t.Fatal("source record mutated")
	}
}
