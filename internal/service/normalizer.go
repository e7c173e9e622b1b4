package service

import (
	"context"
	"errors"
	"fmt"

	"anpr-session-service/internal/domain/anpr"
	"anpr-session-service/internal/repository"
	"anpr-session-service/internal/utils"
)

// CameraDirectory maps cameras to the organization and direction they serve.
type CameraDirectory interface {
	FindCamera(ctx context.Context, camID string) (*anpr.Camera, error)
	FindCameraByAddress(ctx context.Context, mac, ip string) (*anpr.Camera, error)
	FindSubID(ctx context.Context, organization string) (string, error)
}

type Normalizer struct {
	dir            CameraDirectory
	minPlateLength int
}

func NewNormalizer(dir CameraDirectory, minPlateLength int) *Normalizer {
	if minPlateLength < 1 {
		minPlateLength = 1
	}
	return &Normalizer{dir: dir, minPlateLength: minPlateLength}
}

// Lookup resolves the camera and the subject id of its organization.
func (n *Normalizer) Lookup(ctx context.Context, camID string) (*anpr.Camera, string, error) {
	if camID == "" {
		return nil, "", fmt.Errorf("%w: camera id is required", ErrInvalidInput)
	}
	cam, err := n.dir.FindCamera(ctx, camID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: camera %q not found", ErrNotFound, camID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup camera %q: %w", camID, err)
	}
	subID, err := n.lookupSubID(ctx, cam)
	if err != nil {
		return nil, "", err
	}
	return cam, subID, nil
}

// LookupAddress resolves the camera behind an alarm source.
func (n *Normalizer) LookupAddress(ctx context.Context, mac, ip string) (*anpr.Camera, string, error) {
	cam, err := n.dir.FindCameraByAddress(ctx, mac, ip)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: no camera for mac=%q ip=%q", ErrNotFound, mac, ip)
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup camera by address: %w", err)
	}
	subID, err := n.lookupSubID(ctx, cam)
	if err != nil {
		return nil, "", err
	}
	return cam, subID, nil
}

func (n *Normalizer) lookupSubID(ctx context.Context, cam *anpr.Camera) (string, error) {
	if cam.Organization == "" {
		return "", fmt.Errorf("%w: camera %q has no organization", ErrInvalidInput, cam.CamID)
	}
	subID, err := n.dir.FindSubID(ctx, cam.Organization)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: organization %q has no subject", ErrInvalidInput, cam.Organization)
	}
	if err != nil {
		return "", fmt.Errorf("lookup subject for %q: %w", cam.Organization, err)
	}
	return subID, nil
}

// Normalize builds a PlateEvent from a raw reading and the camera it came
// from. It performs no I/O.
func (n *Normalizer) Normalize(raw anpr.RawReading, cam *anpr.Camera, subID string) (anpr.PlateEvent, error) {
	if cam == nil {
		return anpr.PlateEvent{}, fmt.Errorf("%w: camera is required", ErrInvalidInput)
	}
	if !cam.Direction.Valid() {
		return anpr.PlateEvent{}, fmt.Errorf("%w: camera %q has invalid direction %q", ErrInvalidInput, cam.CamID, cam.Direction)
	}
	if cam.Organization == "" || subID == "" {
		return anpr.PlateEvent{}, fmt.Errorf("%w: organization for camera %q not resolved", ErrInvalidInput, cam.CamID)
	}
	if raw.CapturedAt.IsZero() {
		return anpr.PlateEvent{}, fmt.Errorf("%w: capture time is required", ErrInvalidInput)
	}

	regNum := utils.NormalizePlate(raw.RegNum)
	if utils.PlateLength(regNum) < n.minPlateLength {
		return anpr.PlateEvent{}, fmt.Errorf("%w: plate %q is unreadable", ErrInvalidInput, raw.RegNum)
	}

	return anpr.PlateEvent{
		Identity: anpr.Identity{
			Organization: cam.Organization,
			SubID:        subID,
			RegNum:       regNum,
		},
		CamID:       cam.CamID,
		Direction:   cam.Direction,
		Province:    raw.Province,
		Confidence:  raw.Confidence,
		EventTime:   raw.CapturedAt,
		Evidence:    raw.Evidence,
		SourceLogID: raw.SourceLogID,
	}, nil
}
