package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/verity-group/appraisal-api/internal/model"
)

// S3Config holds object storage connection settings.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store implements Store on S3-compatible object storage. A session's
// artifacts live under sessions/<id>/<name>.json; a single PutObject gives
// the atomic overwrite the Store contract requires.
type S3Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewS3Store creates an S3Store from config. The bucket is created lazily on
// first use if it does not exist.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, eris.New("artifact: s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, eris.New("artifact: s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "artifact: init s3 client")
	}

	return &S3Store{client: client, bucket: cfg.Bucket, region: region}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = eris.Wrap(err, "artifact: check bucket")
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			s.initErr = eris.Wrap(err, "artifact: make bucket")
		}
	})
	return s.initErr
}

func objectKey(sessionID string, name model.ArtifactName) string {
	return "sessions/" + sessionID + "/" + string(name) + ".json"
}

func (s *S3Store) Exists(ctx context.Context, sessionID string, name model.ArtifactName) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(sessionID, name), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "artifact: stat %s/%s", sessionID, name)
	}
	return true, nil
}

func (s *S3Store) Read(ctx context.Context, sessionID string, name model.ArtifactName) (json.RawMessage, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(sessionID, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: get %s/%s", sessionID, name)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "artifact: read %s/%s", sessionID, name)
	}
	return raw, nil
}

func (s *S3Store) Write(ctx context.Context, sessionID string, name model.ArtifactName, doc json.RawMessage) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	if doc == nil {
		doc = json.RawMessage("null")
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(sessionID, name), bytes.NewReader(doc), int64(len(doc)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return eris.Wrapf(err, "artifact: put %s/%s", sessionID, name)
}

func (s *S3Store) ListExisting(ctx context.Context, sessionID string, names []model.ArtifactName) (map[model.ArtifactName]bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	// One LIST under the session prefix beats a StatObject per name.
	present := make(map[string]bool)
	prefix := "sessions/" + sessionID + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "artifact: list %s", sessionID)
		}
		present[strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), ".json")] = true
	}

	out := make(map[model.ArtifactName]bool, len(names))
	for _, name := range names {
		out[name] = present[string(name)]
	}
	return out, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
