package similarity

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/models"
)

// Model input geometry.
const (
	inputSize     = 480
	inputChannels = 3
)

// RunWorker is the sidecar entrypoint: it loads the feature-vector
// model, then answers length-prefixed requests on stdin until EOF.
// Inference stays synchronous and non-reentrant; the ML runtime is
// blocking and not thread-safe here.
func RunWorker(cfg config.Similarity, in io.Reader, out io.Writer) error {
	if cfg.OnnxLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.OnnxLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnx runtime: %w", err)
	}
	defer func() { _ = ort.DestroyEnvironment() }()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err)
	}
	defer func() { _ = session.Destroy() }()

	for {
		var req Request
		if err := readFrame(in, &req); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		res := Response{ID: req.ID}
		vectors, err := infer(session, req.Images)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Vectors = vectors
		}

		if err := writeFrame(out, &res); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}

// infer embeds one batch: decode, bilinear-resize to 480x480,
// normalise to 0..1, stack NHWC, forward-pass, L2-normalise each row.
func infer(session *ort.DynamicAdvancedSession, images [][]byte) ([][]float32, error) {
	n := len(images)
	if n == 0 {
		return nil, nil
	}

	batch := make([]float32, n*inputSize*inputSize*inputChannels)
	for i, data := range images {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		resized := imaging.Resize(img, inputSize, inputSize, imaging.Linear)

		offset := i * inputSize * inputSize * inputChannels
		for y := 0; y < inputSize; y++ {
			for x := 0; x < inputSize; x++ {
				r, g, b, _ := resized.At(x, y).RGBA()
				batch[offset] = float32(r>>8) / 255
				batch[offset+1] = float32(g>>8) / 255
				batch[offset+2] = float32(b>>8) / 255
				offset += inputChannels
			}
		}
	}

	inputShape := ort.NewShape(int64(n), inputSize, inputSize, inputChannels)
	input, err := ort.NewTensor(inputShape, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to build input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputShape := ort.NewShape(int64(n), models.EmbeddingDim)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to build output tensor: %w", err)
	}
	defer func() { _ = output.Destroy() }()

	if err := session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}

	flat := output.GetData()
	vectors := make([][]float32, n)
	for i := range vectors {
		row := make([]float32, models.EmbeddingDim)
		copy(row, flat[i*models.EmbeddingDim:(i+1)*models.EmbeddingDim])
		l2Normalize(row)
		vectors[i] = row
	}
	return vectors, nil
}

func l2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
