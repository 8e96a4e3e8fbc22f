package images

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/docutag/linkmeta/models"
)

// ExtractEXIF returns nil when data carries no readable EXIF block
func ExtractEXIF(data []byte) *models.EXIFData {
	if len(data) == 0 {
		return nil
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	out := &models.EXIFData{
		DateTime:         exifString(x, exif.DateTime),
		DateTimeOriginal: exifString(x, exif.DateTimeOriginal),
		Make:             exifString(x, exif.Make),
		Model:            exifString(x, exif.Model),
		Copyright:        exifString(x, exif.Copyright),
		Artist:           exifString(x, exif.Artist),
		Software:         exifString(x, exif.Software),
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			out.Orientation = v
		}
	}
	if lat, long, err := x.LatLong(); err == nil {
		out.GPS = &models.GPSData{Latitude: lat, Longitude: long}
	}

	if *out == (models.EXIFData{}) {
		return nil
	}
	return out
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
