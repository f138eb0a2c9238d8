package analyzer

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/requestcontext"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func ctxAt() context.Context {
	return requestcontext.WithTime(context.Background(), now)
}

func TestReferenceDocument(t *testing.T) {
	r := NewReference()

	t.Run("deterministic for the same reference", func(t *testing.T) {
		a, err := r.AnalyzeDocument(ctxAt(), "capture://doc-1", models.DocumentNationalID)
		require.NoError(t, err)
		b, err := r.AnalyzeDocument(ctxAt(), "capture://doc-1", models.DocumentNationalID)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("synthetic output is well formed and unexpired", func(t *testing.T) {
		a, err := r.AnalyzeDocument(ctxAt(), "capture://doc-2", models.DocumentPassport)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, a.Confidence, 0.85)
		assert.LessOrEqual(t, a.Confidence, 0.98)
		assert.False(t, a.Fraud.Any())
		assert.Len(t, a.Fields.DocumentNumber, 9)
		require.NotNil(t, a.Fields.ExpiryDate)
		assert.False(t, a.IsExpired(now))
	})

	t.Run("proof of address has no expiry", func(t *testing.T) {
		a, err := r.AnalyzeDocument(ctxAt(), "capture://bill", models.DocumentProofOfAddress)
		require.NoError(t, err)
		assert.Nil(t, a.Fields.ExpiryDate)
		require.NotNil(t, a.Fields.IssueDate)
		assert.True(t, a.Fields.IssueDate.Before(now))
	})

	t.Run("empty reference", func(t *testing.T) {
		_, err := r.AnalyzeDocument(ctxAt(), " ", models.DocumentPassport)
		assert.ErrorIs(t, err, ErrEmptyReference)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctxAt())
		cancel()
		_, err := r.AnalyzeDocument(ctx, "capture://doc-3", models.DocumentPassport)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReferenceFixtures(t *testing.T) {
	r := NewReference(WithFixtures(DemoFixtures()))

	doc, err := r.AnalyzeDocument(ctxAt(), DemoDocumentTampered, models.DocumentNationalID)
	require.NoError(t, err)
	assert.Equal(t, 0.99, doc.Confidence)
	assert.True(t, doc.Fraud.Tampering)

	expired, err := r.AnalyzeDocument(ctxAt(), DemoDocumentExpired, models.DocumentNationalID)
	require.NoError(t, err)
	assert.True(t, expired.IsExpired(now))

	selfie, err := r.AnalyzeBiometric(ctxAt(), DemoSelfieNoLiveness, "")
	require.NoError(t, err)
	assert.False(t, selfie.LivenessCheck)

	t.Run("returned analyses do not alias the catalog", func(t *testing.T) {
		doc.Warnings[0] = "changed"
		again, err := r.AnalyzeDocument(ctxAt(), DemoDocumentTampered, models.DocumentNationalID)
		require.NoError(t, err)
		assert.NotEqual(t, "changed", again.Warnings[0])
	})
}

func TestReferenceBiometric(t *testing.T) {
	r := NewReference()

	a, err := r.AnalyzeBiometric(ctxAt(), "capture://selfie", "")
	require.NoError(t, err)
	assert.True(t, a.LivenessCheck)
	assert.Greater(t, a.Confidence, 0.8)
	assert.Greater(t, a.QualityScore, 0.75)
	assert.Nil(t, a.FaceMatchScore, "no reference photo means no face match")

	withPhoto, err := r.AnalyzeBiometric(ctxAt(), "capture://selfie", "capture://id-front")
	require.NoError(t, err)
	require.NotNil(t, withPhoto.FaceMatchScore)
	assert.GreaterOrEqual(t, *withPhoto.FaceMatchScore, 0.82)
}

func writeImage(t *testing.T, dir, name string, img image.Image) {
	t.Helper()
	require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
}

func checkerboard(w, h, cell int) image.Image {
	img := imaging.New(w, h, color.Gray{Y: 60})
	light := color.NRGBA{R: 190, G: 190, B: 190, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, light)
			}
		}
	}
	return img
}

func TestReferenceImageQuality(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "sharp.png", checkerboard(640, 404, 16))
	writeImage(t, root, "flat.png", imaging.New(640, 404, color.Gray{Y: 128}))
	writeImage(t, root, "dark.png", imaging.New(640, 404, color.Gray{Y: 5}))
	writeImage(t, root, "white.png", imaging.New(640, 404, color.White))

	r := NewReference(WithImageRoot(root))
	analyze := func(name string) *models.DocumentAnalysis {
		a, err := r.AnalyzeDocument(ctxAt(), "file://"+name, models.DocumentNationalID)
		require.NoError(t, err)
		return a
	}

	sharp := analyze("sharp.png")
	flat := analyze("flat.png")
	assert.Greater(t, sharp.Quality.Blur, flat.Quality.Blur)
	assert.Equal(t, 0.0, flat.Quality.Blur)
	assert.Contains(t, flat.Warnings, "image appears blurred")
	assert.Greater(t, sharp.Quality.Completeness, 0.9, "ID-1 aspect ratio")

	assert.Less(t, analyze("dark.png").Quality.Darkness, 0.1)
	assert.Equal(t, 0.0, analyze("white.png").Quality.Glare)

	t.Run("missing file is unreadable", func(t *testing.T) {
		_, err := r.AnalyzeDocument(ctxAt(), "file://missing.png", models.DocumentNationalID)
		assert.ErrorIs(t, err, ErrUnreadableArtifact)
	})
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		root      string
		reference string
		want      string
		ok        bool
	}{
		{name: "inside root", root: "/srv/img", reference: "file://a/b.png", want: "/srv/img/a/b.png", ok: true},
		{name: "traversal is confined", root: "/srv/img", reference: "file://../../etc/passwd", want: "/srv/img/etc/passwd", ok: true},
		{name: "other scheme", root: "/srv/img", reference: "s3://bucket/key"},
		{name: "no root", reference: "file://a.png"},
		{name: "empty path", root: "/srv/img", reference: "file://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolvePath(tt.root, tt.reference)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
