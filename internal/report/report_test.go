package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/temfield/internal/result"
)

func TestWriteCSV(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, zone)
	field := 9.75

	session := &result.Session{
		RunID:          "3f1b2c4d-0000-0000-0000-000000000000",
		StartTime:      start,
		EUTDescription: "Motor controller\r\nrev B\n",
	}
	points := []result.Point{
		{Timestamp: start, Frequency: 30e6, CW: 10, Field: &field, Status: result.StatusPassed},
		{Timestamp: start.Add(1500 * time.Millisecond), Frequency: 30.3e6, CW: 10, Status: result.StatusError},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, session, points, start.Add(time.Minute)))

	expected := strings.Join([]string{
		"# File saved: 2024-05-01T09:31:00.000000+0100",
		"#",
		"# EUT Description",
		"# Motor controller",
		"# rev B",
		"Time,Frequency (Hz),CW (V/m),Field (V/m),Status",
		"2024-05-01T09:30:00.000000+0100,30000000,10,9.75,passed",
		"2024-05-01T09:30:01.500000+0100,30300000,10,,error",
		"",
	}, "\n")
	assert.Equal(t, expected, buf.String())
}

func TestWriteCSV_EmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &result.Session{}, nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# EUT Description", lines[2])
	assert.Equal(t, "Time,Frequency (Hz),CW (V/m),Field (V/m),Status", lines[3])
}

func TestFileName(t *testing.T) {
	session := &result.Session{
		RunID:     "3f1b2c4d-aaaa-bbbb-cccc-dddddddddddd",
		StartTime: time.Date(2024, 5, 1, 9, 30, 5, 0, time.Local),
	}
	assert.Equal(t, "temfield_20240501_093005_3f1b2c4d.csv", FileName(session))

	session.RunID = ""
	assert.Equal(t, "temfield_20240501_093005.csv", FileName(session))
}

func TestSaveTable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tables")
	session := &result.Session{
		RunID:          "0a1b2c3d-0000-0000-0000-000000000000",
		StartTime:      time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local),
		EUTDescription: "ECU",
	}
	points := []result.Point{{Timestamp: time.Now(), Frequency: 80e6, CW: 3, Status: result.StatusPassed}}

	path, err := SaveTable(dir, session, points)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "temfield_20240501_093000_0a1b2c3d.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# ECU\n")
	assert.True(t, strings.HasSuffix(string(data), ",80000000,3,,passed\n"))
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestS3Archiver_Archive(t *testing.T) {
	client := &fakeS3{}
	archiver := newS3Archiver(client, S3Config{Bucket: "emc-results", Prefix: "/gtem/"}, discardLogger())

	key, err := archiver.Archive(context.Background(), "run.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)

	assert.Equal(t, "gtem/run.csv", key)
	assert.Equal(t, "emc-results", aws.ToString(client.input.Bucket))
	assert.Equal(t, "gtem/run.csv", aws.ToString(client.input.Key))
	assert.Equal(t, "text/csv", aws.ToString(client.input.ContentType))
	assert.Equal(t, "a,b\n", client.body)
}

func TestS3Archiver_Errors(t *testing.T) {
	archiver := newS3Archiver(&fakeS3{err: errors.New("access denied")}, S3Config{Bucket: "b"}, discardLogger())
	_, err := archiver.Archive(context.Background(), "run.csv", strings.NewReader(""))
	assert.ErrorContains(t, err, "access denied")

	_, err = NewS3Archiver(context.Background(), S3Config{}, discardLogger())
	assert.ErrorIs(t, err, ErrNoBucket)
}
