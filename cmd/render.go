package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/tryon/internal/compositor"
	"github.com/andresmejia3/tryon/internal/degrade"
	"github.com/andresmejia3/tryon/internal/detector"
	"github.com/andresmejia3/tryon/internal/logging"
	"github.com/andresmejia3/tryon/internal/types"
	"github.com/andresmejia3/tryon/internal/utils"
)

var (
	renderOpts    Options
	renderInput   string
	renderOutput  string
	renderShade   string
	renderEngines int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Apply a shade to a recorded video",
	Long:  "Runs the try-on compositor over every frame of a video file. The output is mirrored like the live preview.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRender(cmd.Context(), renderOpts)
	},
}

func init() {
	addPipelineFlags(renderCmd, &renderOpts)
	renderCmd.Flags().StringVarP(&renderInput, "input", "i", "", "Path to input video")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "tryon.mp4", "Path to output video")
	renderCmd.Flags().StringVarP(&renderShade, "shade", "s", "", "Shade to apply (id, name or #RRGGBB)")
	renderCmd.Flags().IntVarP(&renderEngines, "engines", "e", 1, "Number of parallel face model workers")

	renderCmd.MarkFlagRequired("input")
	renderCmd.MarkFlagRequired("shade")
	rootCmd.AddCommand(renderCmd)
}

// frameBufferPool recycles raw RGBA frame buffers between the decoder and
// the encoder.
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1024*1024) },
}

type renderResult struct {
	Index     int
	Data      []byte
	Landmarks types.LandmarkFrame
	Err       error
}

func validateRenderFlags(opts *Options) error {
	info, err := os.Stat(renderInput)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	inAbs, _ := filepath.Abs(renderInput)
	outAbs, _ := filepath.Abs(renderOutput)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if renderEngines < 1 {
		renderEngines = 1
	}
	return validatePipelineFlags(cfg, opts)
}

func runRender(ctx context.Context, opts Options) error {
	// Kill ffmpeg and the model workers if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateRenderFlags(&opts); err != nil {
		return err
	}

	catalog, err := loadCatalog(ctx)
	if err != nil {
		utils.ShowError("Failed to load shades", err, nil)
		return err
	}
	sh, err := resolveShade(catalog, renderShade)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	compOpts, err := compositorOptions(cfg)
	if err != nil {
		utils.ShowError("Failed to load region table", err, nil)
		return err
	}
	// Every decoded frame is drawn; skipping would repeat the previous surface.
	compOpts.SkipInterval = 1

	fps, err := utils.GetVideoFPS(ctx, renderInput)
	if err != nil {
		utils.ShowError("Failed to determine video FPS", err, nil)
		return err
	}
	width, height, err := utils.GetVideoDimensions(ctx, renderInput)
	if err != nil {
		utils.ShowError("Failed to determine video dimensions", err, nil)
		return err
	}
	totalFrames := utils.GetTotalFrames(ctx, renderInput)

	log := logging.Component(logger, "render")
	ctrl := degrade.NewController(cfg.Detector.FatalThreshold, logging.Component(logger, "degrade"))
	var fellBack atomic.Bool
	ctrl.OnFallback(func(r degrade.Reason) {
		fellBack.Store(true)
		log.Warn().Str("reason", string(r)).Msg("Face tracking unavailable, using the fixed oval region")
	})

	taskChan := make(chan types.FrameTask, renderEngines)
	resultsChan := make(chan renderResult, renderEngines*2)
	readyChan := make(chan struct{}, renderEngines)
	var wg sync.WaitGroup

	for i := 0; i < renderEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			sess := detector.NewSession(newModel(cfg, id), detectorOptions(cfg), ctrl, nil, logging.Component(logger, "detector"))
			defer sess.Close()
			if err := sess.Initialize(ctx); err != nil {
				// The controller has engaged fallback; frames pass through
				// without landmarks.
				log.Debug().Err(err).Int("worker", id).Msg("Engine running without a face model")
			}
			readyChan <- struct{}{}

			for task := range taskChan {
				res := renderResult{Index: task.Index, Data: task.Data}
				img := &image.RGBA{Pix: task.Data, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
				if ch, ok := sess.Submit(ctx, img); ok {
					r := <-ch
					res.Landmarks, res.Err = r.Frame, r.Err
				}
				select {
				case resultsChan <- res:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	fmt.Fprintln(os.Stderr, "🚀 Warming up engines...")
	for i := 0; i < renderEngines; i++ {
		select {
		case <-readyChan:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	decoder := utils.NewFFmpegRawDecoder(ctx, renderInput)
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create decoder pipe", err, nil)
		return err
	}
	if err := decoder.Start(); err != nil {
		utils.ShowError("Failed to start decoder", err, decoder)
		return err
	}

	encoder := utils.NewFFmpegEncoder(ctx, renderOutput, fps, width, height)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		utils.ShowError("Failed to create encoder pipe", err, nil)
		return err
	}
	if err := encoder.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, encoder)
		return err
	}

	go func() {
		defer close(taskChan)
		frameSize := width * height * 4
		idx := 0
		for {
			buf := frameBufferPool.Get().([]byte)
			if cap(buf) < frameSize {
				buf = make([]byte, frameSize)
			}
			buf = buf[:frameSize]

			if err := utils.ReadRawFrame(decoderOut, buf); err != nil {
				frameBufferPool.Put(buf)
				if err != io.EOF {
					log.Debug().Err(err).Int("frame", idx).Msg("Decoder stopped")
				}
				return
			}

			select {
			case taskChan <- types.FrameTask{Index: idx, Data: buf}:
				idx++
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // spinner
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Rendering"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	canvas := compositor.NewRGBACanvas()
	comp := compositor.New(canvas, compOpts, nil, logging.Component(logger, "compositor"))
	buffer := make(map[int]renderResult)
	nextFrame, faces := 0, 0

	for res := range resultsChan {
		buffer[res.Index] = res

		for {
			frame, ok := buffer[nextFrame]
			if !ok {
				break
			}
			delete(buffer, nextFrame)

			out, rendered := composeFrame(comp, frame, width, height, sh, ctrl.Engaged())
			if rendered {
				faces++
			}
			if _, err := encoderIn.Write(out.Pix); err != nil {
				utils.ShowError("Encoder rejected frame", err, encoder)
				return err
			}
			frameBufferPool.Put(frame.Data)

			bar.Add(1)
			nextFrame++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	encoderIn.Close()
	if err := encoder.Wait(); err != nil {
		utils.ShowError("Encoder process failed", err, encoder)
		return err
	}
	if err := decoder.Wait(); err != nil {
		utils.ShowError("Decoder process failed", err, decoder)
		return err
	}

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n✅ Rendered %d frames (%d with a face) to %s\n", nextFrame, faces, renderOutput)
	if fellBack.Load() {
		fmt.Fprintln(os.Stderr, "ℹ️  Face tracking was unavailable for part of the video; the fixed oval region was used.")
	}
	return nil
}

// composeFrame draws one decoded frame. Frames whose detection failed are
// drawn without an overlay.
func composeFrame(comp *compositor.Compositor, res renderResult, width, height int, sh *types.Shade, fallback bool) (*image.RGBA, bool) {
	frame := &image.RGBA{Pix: res.Data, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	in := compositor.Input{Frame: frame, Shade: sh, Fallback: fallback}
	if res.Err == nil {
		in.Landmarks = &res.Landmarks
	}
	tick := comp.Tick(in)
	return comp.Snapshot(), tick.FaceRendered
}
