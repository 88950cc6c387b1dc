package storage

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// archiveMetadata is written alongside the staged database files and
// describes what the tarball contains, so a restore can verify integrity
// before touching the live database.
type archiveMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []archivedFile `json:"files"`
}

type archivedFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes one archive found in the remote bucket.
type BackupInfo struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}

// S3Archiver snapshots the SQLite database file to a tar.gz archive and
// uploads it to an S3-compatible bucket (Cloudflare R2, in production; any
// S3-compatible endpoint otherwise). It exists so a deployment isn't solely
// dependent on the local disk the process happens to be running on.
//
// No client-construction code for the teacher's R2 backup path survived
// retrieval (internal/reliability/r2_backup_service.go references an
// R2Client type whose implementation file was not included in the pack), so
// the client here is built from the aws-sdk-go-v2 public API directly
// (config.LoadDefaultConfig + s3.NewFromConfig + manager.NewUploader)
// rather than adapted from a retrieved file; the staging/checksum/archive
// flow below follows r2_backup_service.go's CreateAndUploadBackup shape.
type S3Archiver struct {
	client *s3.Client
	bucket string
	dbPath string
	log    zerolog.Logger
}

// NewS3Archiver loads AWS-style credentials from the environment (access
// key, secret, region — R2 buckets authenticate the same way against a
// custom endpoint) and constructs the uploader. endpoint may be empty to
// use real AWS S3.
func NewS3Archiver(ctx context.Context, bucket, region, endpoint, dbPath string, log zerolog.Logger) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("storage.NewS3Archiver: load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true // R2 and most non-AWS S3-compatible stores require path-style
	})

	return &S3Archiver{
		client: client,
		bucket: bucket,
		dbPath: dbPath,
		log:    logger.Scoped(log, "s3_archiver"),
	}, nil
}

// Snapshot stages the database file plus a checksum manifest into a tar.gz
// archive and uploads it under a timestamped key.
func (a *S3Archiver) Snapshot(ctx context.Context) (string, error) {
	start := time.Now()

	stagingDir, err := os.MkdirTemp("", "athena-archive-*")
	if err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbName := filepath.Base(a.dbPath)
	stagedPath := filepath.Join(stagingDir, dbName)
	if err := copyFile(a.dbPath, stagedPath); err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: stage db: %w", err)
	}

	info, err := os.Stat(stagedPath)
	if err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: stat: %w", err)
	}
	checksum, err := checksumFile(stagedPath)
	if err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: checksum: %w", err)
	}

	meta := archiveMetadata{
		Timestamp: time.Now().UTC(),
		Files: []archivedFile{
			{Name: dbName, SizeBytes: info.Size(), Checksum: checksum},
		},
	}
	metaPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeJSONFile(metaPath, meta); err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: manifest: %w", err)
	}

	archiveName := fmt.Sprintf("athena-backup-%s.tar.gz", time.Now().Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createTarGz(archivePath, []string{stagedPath, metaPath}); err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: open archive: %w", err)
	}
	defer archiveFile.Close()

	uploader := manager.NewUploader(a.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(archiveName),
		Body:   archiveFile,
	})
	if err != nil {
		return "", fmt.Errorf("storage.S3Archiver.Snapshot: upload: %w", err)
	}

	a.log.Info().
		Str("key", archiveName).
		Dur("duration", time.Since(start)).
		Msg("uploaded state archive")
	return archiveName, nil
}

// List returns archives currently in the bucket, newest first.
func (a *S3Archiver) List(ctx context.Context) ([]BackupInfo, error) {
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String("athena-backup-"),
	})
	if err != nil {
		return nil, fmt.Errorf("storage.S3Archiver.List: %w", err)
	}

	backups := make([]BackupInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseArchiveTimestamp(*obj.Key)
		if !ok {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// Rotate deletes archives older than retention, always keeping at least
// minKeep regardless of age.
func (a *S3Archiver) Rotate(ctx context.Context, retention time.Duration, minKeep int) error {
	backups, err := a.List(ctx)
	if err != nil {
		return fmt.Errorf("storage.S3Archiver.Rotate: %w", err)
	}
	if len(backups) <= minKeep {
		return nil
	}

	cutoff := time.Now().Add(-retention)
	for i := minKeep; i < len(backups); i++ {
		if backups[i].Timestamp.After(cutoff) {
			continue
		}
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(backups[i].Key),
		})
		if err != nil {
			a.log.Error().Err(err).Str("key", backups[i].Key).Msg("failed to delete old archive")
			continue
		}
	}
	return nil
}

func parseArchiveTimestamp(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, "athena-backup-")
	name = strings.TrimSuffix(name, ".tar.gz")
	ts, err := time.Parse("2006-01-02-150405", name)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func createTarGz(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.Base(path)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
