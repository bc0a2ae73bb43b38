package tools

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".heic": true, ".heif": true, ".tiff": true, ".tif": true,
}

// imageMetadata decodes dimensions and, for JPEG and TIFF files, the EXIF block.
// It returns nil for non-images and undecodable files.
func (box *Toolbox) imageMetadata(resolved string) map[string]string {
	extension := strings.ToLower(filepath.Ext(resolved))
	if !imageExtensions[extension] {
		return nil
	}
	data, err := box.fs.ReadFile(resolved)
	if err != nil {
		box.logger.Debug("image read failed", zap.String("path", resolved), zap.Error(err))
		return nil
	}

	metadata := make(map[string]string)
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		metadata["width"] = strconv.Itoa(cfg.Width)
		metadata["height"] = strconv.Itoa(cfg.Height)
		metadata["format"] = format
	}

	switch extension {
	case ".jpg", ".jpeg", ".tif", ".tiff":
		if exifData, err := exif.Decode(bytes.NewReader(data)); err == nil {
			populateExifFields(exifData, metadata)
		}
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func populateExifFields(x *exif.Exif, metadata map[string]string) {
	if tm, err := x.DateTime(); err == nil {
		metadata["datetime"] = tm.UTC().Format(time.RFC3339)
	}
	fields := []struct {
		key  string
		name exif.FieldName
	}{
		{"camera_make", exif.Make},
		{"camera_model", exif.Model},
		{"lens_model", exif.LensModel},
		{"exposure_time", exif.ExposureTime},
		{"iso", exif.ISOSpeedRatings},
		{"focal_length", exif.FocalLength},
		{"orientation", exif.Orientation},
	}
	for _, field := range fields {
		if tag, err := x.Get(field.name); err == nil {
			if cleaned := cleanExifString(tag.String()); cleaned != "" {
				metadata[field.key] = cleaned
			}
		}
	}
	if lat, long, err := x.LatLong(); err == nil {
		metadata["gps_latitude"] = fmt.Sprintf("%.6f", lat)
		metadata["gps_longitude"] = fmt.Sprintf("%.6f", long)
	}
}

func cleanExifString(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.Trim(trimmed, "\"")
	return strings.TrimRight(trimmed, "\x00")
}
