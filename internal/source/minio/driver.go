// Package minio provides a document-style source.DataSource over MinIO /
// S3-compatible object storage.
//
// Documents are JSON objects laid out as <entity-type>/<id>.json inside a
// single bucket. The driver does not implement ConstraintIntrospector —
// document sources have no declared keys, so the schema catalog falls back
// to sampled heuristic inference.
package minio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/source"
)

// maxScanObjects bounds linear scans used for reverse foreign-key lookups.
// Document stores have no secondary indexes, so a scan is the only option;
// the cap keeps one bad relationship from reading an entire bucket.
const maxScanObjects = 1000

// Driver is a MinIO-backed document data source. It is safe for concurrent
// use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	bucket string
}

// New connects to MinIO using the provided config and verifies the bucket
// exists before returning.
func New(ctx context.Context, cfg *config.SourceConfig) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, bucket: cfg.Bucket}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, mapError(err, "failed to check bucket")
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", cfg.Bucket)
	}

	return d, nil
}

// --- source.DataSource implementation ---

func (d *Driver) Name() string      { return "minio" }
func (d *Driver) Kind() source.Kind { return source.KindDocument }

// Ping verifies the bucket is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op — the MinIO SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// ListEntityTypes returns the top-level prefixes of the bucket. Each
// prefix is one entity type.
func (d *Driver) ListEntityTypes(ctx context.Context) ([]string, error) {
	var types []string
	for obj := range d.client.ListObjects(ctx, d.bucket, miniogo.ListObjectsOptions{Recursive: false}) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list entity types")
		}
		if strings.HasSuffix(obj.Key, "/") {
			types = append(types, strings.TrimSuffix(obj.Key, "/"))
		}
	}
	return types, nil
}

// SampleInstances returns up to limit documents of the given entity type.
func (d *Driver) SampleInstances(ctx context.Context, entityType string, limit int) ([]source.Record, error) {
	return d.scan(ctx, entityType, limit, maxScanObjects, nil)
}

// SampleInstancesFiltered implements source.FilteredSampler by scanning
// documents and keeping those matching every filter field exactly.
func (d *Driver) SampleInstancesFiltered(ctx context.Context, entityType string, filter map[string]any, limit int) ([]source.Record, error) {
	return d.scan(ctx, entityType, limit, maxScanObjects, func(rec source.Record) bool {
		for k, want := range filter {
			if !valueEquals(rec[k], want) {
				return false
			}
		}
		return true
	})
}

// FetchByID returns the document whose idField equals id. The common case
// — idField matching the object-key convention — is a direct GET; fallback
// identifier fields degrade to a bounded scan.
func (d *Driver) FetchByID(ctx context.Context, entityType, idField string, id any) (source.Record, error) {
	key := entityType + "/" + asString(id) + ".json"
	rec, err := d.getDocument(ctx, key)
	if err == nil {
		// Direct hit. When a fallback idField is being probed, only
		// accept the document if the field agrees (or is absent).
		if v, ok := rec[idField]; !ok || valueEquals(v, id) {
			return rec, nil
		}
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	matches, err := d.scan(ctx, entityType, 1, maxScanObjects, func(rec source.Record) bool {
		return valueEquals(rec[idField], id)
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "%s with %s=%v not found", entityType, idField, id)
	}
	return matches[0], nil
}

// FetchByForeignKey returns up to limit documents whose field equals value.
// Array-valued fields match when they contain value.
func (d *Driver) FetchByForeignKey(ctx context.Context, entityType, field string, value any, limit int) ([]source.Record, error) {
	return d.scan(ctx, entityType, limit, maxScanObjects, func(rec source.Record) bool {
		switch v := rec[field].(type) {
		case []any:
			for _, el := range v {
				if valueEquals(el, value) {
					return true
				}
			}
			return false
		default:
			return valueEquals(v, value)
		}
	})
}

// scan lists objects under the entity type prefix, decodes them, and
// collects up to limit records passing keep (nil keep accepts everything).
// At most scanCap objects are read.
func (d *Driver) scan(ctx context.Context, entityType string, limit, scanCap int, keep func(source.Record) bool) ([]source.Record, error) {
	opts := miniogo.ListObjectsOptions{
		Prefix:    entityType + "/",
		Recursive: true,
	}

	records := make([]source.Record, 0, limit)
	scanned := 0

	for obj := range d.client.ListObjects(ctx, d.bucket, opts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}

		rec, err := d.getDocument(ctx, obj.Key)
		if err != nil {
			if errs.IsNotFound(err) {
				continue // deleted between list and get
			}
			return nil, err
		}

		if keep == nil || keep(rec) {
			records = append(records, rec)
			if len(records) >= limit {
				break
			}
		}

		scanned++
		if scanned >= scanCap {
			break
		}
	}

	return records, nil
}

// getDocument fetches and decodes one JSON object.
func (d *Driver) getDocument(ctx context.Context, key string) (source.Record, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err, "failed to read object "+key)
	}

	var rec source.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "object "+key+" is not a JSON document", err)
	}
	return rec, nil
}

// mapError classifies MinIO SDK errors into source error kinds. Missing
// objects surface as not-found so callers can fall back to scanning.
func mapError(err error, msg string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	resp := miniogo.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return errs.Wrap(errs.ErrKindConfig, msg, err)
	case "":
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	default:
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}
}

// valueEquals compares two scalar values across JSON/driver type
// differences (string vs []byte, int vs float64).
func valueEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return source.ValueString(a) == source.ValueString(b)
}

func asString(v any) string { return source.ValueString(v) }
