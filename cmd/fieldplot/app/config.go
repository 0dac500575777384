package app

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
)

// ImageFormat is the encoding of the rendered chart.
type ImageFormat string

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type Config struct {
	DBPath        string
	SessionID     int64
	OutputFile    string
	Format        ImageFormat
	Width         int
	Height        int
	LinearAxis    bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Width:  1600,
		Height: 900,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var imageFormat string
	flag.StringVar(&c.DBPath, "db", "", "Path to the database file")
	flag.Int64Var(&c.SessionID, "s", 1, "Session ID")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	flag.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	flag.IntVar(&c.Width, "width", c.Width, "Image width in pixels")
	flag.IntVar(&c.Height, "height", c.Height, "Image height in pixels")
	flag.BoolVar(&c.LinearAxis, "linear", false, "Use a linear frequency axis instead of a logarithmic one")
	flag.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as axis labels and session info")
	flag.Parse()

	imageFormat = strings.ToLower(imageFormat)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID <= 0 {
		err = errors.New("session id is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if c.Width < minWidth || c.Height < minHeight {
		err = fmt.Errorf("image must be at least %dx%d pixels", minWidth, minHeight)
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = withExtension(c.OutputFile, c.Format)
	return c, nil
}

// withExtension appends the extension of format unless name already has it.
// A ".jpg" name is accepted for JPEG output.
func withExtension(name string, format ImageFormat) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == "."+string(format):
		return name
	case format == ImageJPEG && ext == ".jpg":
		return name
	}
	return fmt.Sprintf("%s.%s", name, format)
}
