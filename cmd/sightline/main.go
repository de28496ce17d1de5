package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/sightline/internal/api"
	"github.com/banshee-data/sightline/internal/config"
	"github.com/banshee-data/sightline/internal/eventlog"
	"github.com/banshee-data/sightline/internal/pipeline"
	"github.com/banshee-data/sightline/internal/speech"
	"github.com/banshee-data/sightline/internal/video"
	"github.com/banshee-data/sightline/internal/vision/dnn"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode (synthetic source, scripted detector, no camera or model needed)")
	listen      = flag.String("listen", ":8080", "Listen address")
	source      = flag.String("source", "camera", "Frame source: camera | file")
	cameraIndex = flag.Int("camera-index", 0, "Camera device index (0 internal, 1 external)")
	videoFile   = flag.String("file", "", "Video file to replay (with -source file)")
	modelPath   = flag.String("model", "", "Detection model weights file")
	modelCfg    = flag.String("model-config", "", "Detection model network description (optional)")
	classesPath = flag.String("classes", "", "JSON file mapping class index to label (default: built-in VOC classes)")
	confidence  = flag.Float64("confidence", 0, "Detection confidence threshold override, 0-1 (0 uses the config value)")
	voice       = flag.Bool("voice", true, "Enable voice announcements")
	speakerKind = flag.String("speaker", "auto", "Speech backend: auto | espeak | elevenlabs | none")
	mirror      = flag.Bool("mirror", false, "Mirror frames horizontally before processing")
	recordPath  = flag.String("record", "", "Start recording annotated video to this path on startup")
	dbFile      = flag.String("db", "sightline.db", "Event log database path (empty to disable)")
	configPath  = flag.String("config", "", "Tuning config JSON path (default: bundled defaults)")
	autostart   = flag.Bool("autostart", true, "Start the pipeline immediately (otherwise wait for POST /api/start)")
)

// vocClasses is the MobileNet-SSD class list, the default when no
// classes file is supplied.
var vocClasses = map[int]string{
	1: "aeroplane", 2: "bicycle", 3: "bird", 4: "boat", 5: "bottle",
	6: "bus", 7: "car", 8: "cat", 9: "chair", 10: "cow",
	11: "diningtable", 12: "dog", 13: "horse", 14: "motorbike", 15: "person",
	16: "pottedplant", 17: "sheep", 18: "sofa", 19: "train", 20: "tvmonitor",
}

func loadClasses(path string) (map[int]string, error) {
	if path == "" {
		return vocClasses, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	classes := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("class index %q is not a number", k)
		}
		classes[id] = v
	}
	return classes, nil
}

func buildSpeaker(kind string) (speech.Speaker, error) {
	switch kind {
	case "none":
		return speech.NoopSpeaker{}, nil
	case "espeak":
		return speech.NewExecSpeaker(""), nil
	case "elevenlabs":
		return speech.NewElevenLabsSpeaker(speech.ElevenLabsConfig{
			APIKey:  os.Getenv("ELEVENLABS_API_KEY"),
			VoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		})
	case "auto":
		if os.Getenv("ELEVENLABS_API_KEY") != "" {
			return speech.NewElevenLabsSpeaker(speech.ElevenLabsConfig{
				APIKey:  os.Getenv("ELEVENLABS_API_KEY"),
				VoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
			})
		}
		return speech.NewExecSpeaker(""), nil
	default:
		return nil, fmt.Errorf("unknown speaker backend %q", kind)
	}
}

// buildStartFunc returns the API start handler: it constructs the
// source, detector and speaker for one session from the request and
// the CLI defaults, then starts the controller.
func buildStartFunc(ctrl *pipeline.Controller, srv func() *config.TuningConfig) api.StartFunc {
	return func(req api.StartRequest) error {
		cfg := srv()
		if req.Confidence != nil {
			cfg.ConfidenceThreshold = req.Confidence
		}
		useMirror := cfg.GetMirror()
		if req.Mirror != nil {
			useMirror = *req.Mirror
		}
		voiceOn := *voice
		if req.Voice != nil {
			voiceOn = *req.Voice
		}

		var (
			src        video.FrameSource
			sourceDesc string
			err        error
		)
		switch req.Source {
		case "", "camera":
			idx := req.CameraIndex
			src, err = video.OpenCamera(idx, useMirror)
			sourceDesc = fmt.Sprintf("camera:%d", idx)
		case "external":
			src, err = video.OpenCamera(1, useMirror)
			sourceDesc = "camera:1"
		case "file":
			if req.File == "" {
				return fmt.Errorf("file source requires a path")
			}
			src, err = video.OpenFile(req.File, useMirror, cfg.GetFileSourceFastest())
			sourceDesc = "file:" + req.File
		default:
			return fmt.Errorf("unknown source %q", req.Source)
		}
		if err != nil {
			return err
		}

		model := *modelPath
		if req.Model != "" {
			model = req.Model
		}
		netCfg := *modelCfg
		if req.ModelConfig != "" {
			netCfg = req.ModelConfig
		}
		classes, err := loadClasses(*classesPath)
		if err != nil {
			src.Close()
			return err
		}
		det, err := dnn.NewNetDetector(dnn.ModelConfig{
			ModelPath:  model,
			ConfigPath: netCfg,
			Classes:    classes,
		})
		if err != nil {
			src.Close()
			return err
		}

		spk, err := buildSpeaker(*speakerKind)
		if err != nil {
			src.Close()
			det.Close()
			return err
		}

		return ctrl.Start(pipeline.StartOptions{
			Source:       src,
			Detector:     det,
			Speaker:      spk,
			Tuning:       cfg,
			VoiceEnabled: voiceOn,
			SourceDesc:   sourceDesc,
			ModelDesc:    model,
		})
	}
}

func main() {
	flag.Parse()

	// .env is optional; it carries the ElevenLabs credentials when
	// present.
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded environment from .env")
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	var cfg *config.TuningConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}
	if *confidence > 0 {
		cfg.ConfidenceThreshold = confidence
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid tuning config: %v", err)
	}

	var db *eventlog.DB
	if *dbFile != "" {
		var err error
		db, err = eventlog.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open event log: %v", err)
		}
		defer db.Close()
	}

	ctrl := pipeline.NewController(db)
	hub := api.NewHub()
	ctrl.SetEventHook(hub.Broadcast)

	start := buildStartFunc(ctrl, func() *config.TuningConfig { return cfg })
	srv := api.NewServer(ctrl, start, db, hub, cfg)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *autostart {
		if *devMode {
			// Dev mode runs entirely without camera hardware or model
			// files.
			err := ctrl.Start(pipeline.StartOptions{
				Source:     video.NewSyntheticSource(640, 480, 50*time.Millisecond, 0),
				Detector:   dnn.NewScriptedDetector(nil),
				Speaker:    speech.NoopSpeaker{},
				Tuning:     cfg,
				SourceDesc: "synthetic",
				ModelDesc:  "scripted",
			})
			if err != nil {
				log.Fatalf("failed to start dev pipeline: %v", err)
			}
		} else {
			req := api.StartRequest{Source: *source, CameraIndex: *cameraIndex, File: *videoFile}
			if err := start(req); err != nil {
				log.Fatalf("failed to start pipeline: %v", err)
			}
		}
		if *recordPath != "" {
			if err := ctrl.StartRecording(*recordPath); err != nil {
				log.Printf("failed to start recording: %v", err)
			}
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := srv.ServeMux()
		if db != nil {
			db.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
	}()

	<-ctx.Done()
	if err := ctrl.Stop(); err != nil {
		log.Printf("pipeline stop error: %v", err)
	}
	hub.Close()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
