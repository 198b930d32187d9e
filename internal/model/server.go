package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Predictor runs the forward pass of a loaded classifier.
type Predictor interface {
	// Scores returns the 1×K score vector for one input batch.
	Scores(input []float32) ([]float32, error)
	Info() Metadata
	Close()
}

type Options struct {
	MetadataFile string
	GraphFile    string
	// LibraryPath points at the onnxruntime shared library; empty keeps
	// the runtime's default lookup.
	LibraryPath  string
	IntraThreads int
}

var ErrInputSize = errors.New("input does not match model input shape")

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return envErr
}

// Server wraps an ONNX Runtime session. Tensors are created per call so the
// session can be shared by concurrent requests.
type Server struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
}

// NewServer loads the metadata descriptor and the graph from dir.
func NewServer(dir string, opts Options) (*Server, error) {
	if opts.MetadataFile == "" {
		opts.MetadataFile = "model.json"
	}
	if opts.GraphFile == "" {
		opts.GraphFile = "model.onnx"
	}

	metadata, err := ReadMetadata(filepath.Join(dir, opts.MetadataFile))
	if err != nil {
		return nil, err
	}

	graphPath := filepath.Join(dir, opts.GraphFile)
	if _, err := os.Stat(graphPath); err != nil {
		return nil, fmt.Errorf("failed to find model graph: %w", err)
	}

	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()

	if opts.IntraThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(opts.IntraThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(graphPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:  session,
		Metadata: metadata,
	}, nil
}

// Opener adapts NewServer for the Loader.
func Opener(opts Options) OpenFunc {
	return func(dir string) (Predictor, error) {
		s, err := NewServer(dir, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ReadMetadata parses and validates a metadata descriptor.
func ReadMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := metadata.normalize(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (s *Server) Info() Metadata {
	return s.Metadata
}

func (s *Server) Scores(input []float32) ([]float32, error) {
	if want := s.Metadata.InputSize(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputSize, want, len(input))
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(s.Metadata.InputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor})
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// The tensor's backing memory dies with it.
	out := outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *Server) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	ort.DestroyEnvironment()
}
