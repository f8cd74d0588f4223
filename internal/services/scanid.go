package services

import "github.com/google/uuid"

func newScanID() string { return uuid.NewString() }
