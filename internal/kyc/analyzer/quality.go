package analyzer

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"kycflow/internal/kyc/models"
)

const (
	inspectBound = 512
	// sharpVariance is the Laplacian variance treated as fully in focus.
	sharpVariance = 300.0
	// wellExposedMean is the mean luma treated as fully exposed.
	wellExposedMean = 110.0
	glareLuma       = 250
	minShortSide    = 300
)

var laplacian = [9]float64{
	0, 1, 0,
	1, -4, 1,
	0, 1, 0,
}

// InspectImage derives quality sub-scores from the image at path. Scores
// are in [0,1], higher is better.
func InspectImage(path string, docType models.DocumentType) (models.QualityScores, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return models.QualityScores{}, fmt.Errorf("%w: %v", ErrUnreadableArtifact, err)
	}
	return scoreImage(img, docType), nil
}

func scoreImage(img image.Image, docType models.DocumentType) models.QualityScores {
	bounds := img.Bounds()
	gray := imaging.Grayscale(imaging.Fit(img, inspectBound, inspectBound, imaging.Box))

	var sum float64
	var bright int
	pixels := len(gray.Pix) / 4
	for i := 0; i < len(gray.Pix); i += 4 {
		v := gray.Pix[i]
		sum += float64(v)
		if v >= glareLuma {
			bright++
		}
	}
	if pixels == 0 {
		return models.QualityScores{}
	}
	mean := sum / float64(pixels)

	edges := imaging.Convolve3x3(gray, laplacian, &imaging.ConvolveOptions{Abs: true})
	var eSum, eSq float64
	for i := 0; i < len(edges.Pix); i += 4 {
		v := float64(edges.Pix[i])
		eSum += v
		eSq += v * v
	}
	eMean := eSum / float64(pixels)
	variance := eSq/float64(pixels) - eMean*eMean

	return models.QualityScores{
		Blur:         round2(clamp01(variance / sharpVariance)),
		Glare:        round2(clamp01(1 - float64(bright)/float64(pixels)*10)),
		Darkness:     round2(clamp01(mean / wellExposedMean)),
		Completeness: round2(completeness(bounds.Dx(), bounds.Dy(), docType)),
	}
}

// completeness compares the capture's aspect ratio with the document's
// physical format and penalises low resolution.
func completeness(w, h int, docType models.DocumentType) float64 {
	if w == 0 || h == 0 {
		return 0
	}
	long, short := float64(max(w, h)), float64(min(w, h))
	expected := aspectRatio(docType)
	score := clamp01(1 - math.Abs(long/short-expected)/expected*2)
	if short < minShortSide {
		score *= short / minShortSide
	}
	return score
}

func aspectRatio(docType models.DocumentType) float64 {
	switch docType {
	case models.DocumentPassport:
		return 1.42
	case models.DocumentProofOfAddress:
		return 1.414
	default:
		// ID-1 card format
		return 1.586
	}
}

func meanQuality(q models.QualityScores) float64 {
	return (q.Blur + q.Glare + q.Darkness + q.Completeness) / 4
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
