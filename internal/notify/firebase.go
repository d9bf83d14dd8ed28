package notify

import (
	"context"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// NewFirebaseSender builds an FCM client from a service account key file.
// A missing or invalid key file is an error.
func NewFirebaseSender(ctx context.Context, credentialsFile, projectID string) (*messaging.Client, error) {
	if credentialsFile == "" {
		return nil, errors.New("GOOGLE_APPLICATION_CREDENTIALS is required")
	}
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("reading service account key: %w", err)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("%s is not a valid service account key: %w", credentialsFile, err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating messaging client: %w", err)
	}

	return client, nil
}
