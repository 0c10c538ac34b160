package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// FirebaseStorage stores uploads in a Firebase Cloud Storage bucket.
type FirebaseStorage struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

var _ BlobStorage = (*FirebaseStorage)(nil)

// NewFirebaseStorage initializes the storage client. Credentials come
// from the FIREBASE_SERVICE_ACCOUNT_JSON environment variable (Base64
// encoded) when set, otherwise from the local service account key file.
func NewFirebaseStorage(ctx context.Context, localFilePath, bucketName string) (*FirebaseStorage, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("storage bucket name is required")
	}

	var opt option.ClientOption
	encodedCreds := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	if encodedCreds != "" {
		decoded, err := base64.StdEncoding.DecodeString(encodedCreds)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 firebase credentials from FIREBASE_SERVICE_ACCOUNT_JSON: %v", err)
		}
		opt = option.WithCredentialsJSON(decoded)
		log.Println("Blob storage: initializing from FIREBASE_SERVICE_ACCOUNT_JSON environment variable.")
	} else {
		if _, err := os.Stat(localFilePath); os.IsNotExist(err) {
			return nil, fmt.Errorf("local firebase file not found: %s, and FIREBASE_SERVICE_ACCOUNT_JSON environment variable is not set", localFilePath)
		}
		opt = option.WithCredentialsFile(localFilePath)
		log.Printf("Blob storage: initializing from local file: %s.", localFilePath)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: bucketName}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting storage client: %v", err)
	}
	bucket, err := client.DefaultBucket()
	if err != nil {
		return nil, fmt.Errorf("error getting default bucket: %v", err)
	}
	return &FirebaseStorage{bucket: bucket, bucketName: bucketName}, nil
}

func (f *FirebaseStorage) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	w := f.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish blob %s: %w", name, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", f.bucketName, name), nil
}
