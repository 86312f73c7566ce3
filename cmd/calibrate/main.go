// Package main is a command line tool that calibrates a camera from pictures of a chessboard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fatih/color"
	"github.com/invopop/jsonschema"
	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	_ "github.com/xfmoulet/qoi" // register qoi
	"go.viam.com/utils"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/camcalib/calibration"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
)

const (
	// Flags.
	flagDebug             = "debug"
	flagLogFile           = "log-file"
	flagConfig            = "config"
	flagPattern           = "pattern"
	flagSquareSize        = "square-size"
	flagMinViews          = "min-views"
	flagOutput            = "output"
	flagDrawDir           = "draw-dir"
	flagPlot              = "plot"
	flagCameraJSON        = "camera-json"
	flagCalibration       = "calibration"
	flagAlpha             = "alpha"
	flagOutputDir         = "output-dir"
	flagFixK1             = "fix-k1"
	flagFixK2             = "fix-k2"
	flagFixK3             = "fix-k3"
	flagZeroTangentDist   = "zero-tangent-dist"
	flagFixPrincipalPoint = "fix-principal-point"
	flagFixAspectRatio    = "fix-aspect-ratio"
	flagRationalModel     = "rational-model"
)

var flagNames = map[string]calibration.Flag{
	flagFixK1:             calibration.FixK1,
	flagFixK2:             calibration.FixK2,
	flagFixK3:             calibration.FixK3,
	flagZeroTangentDist:   calibration.ZeroTangentDist,
	flagFixPrincipalPoint: calibration.FixPrincipalPoint,
	flagFixAspectRatio:    calibration.FixAspectRatio,
	flagRationalModel:     calibration.RationalModel,
}

func main() {
	logger := logging.NewLogger("calibrate")
	var fileAppender *logging.FileAppender

	patternFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load the session configuration from `FILE`",
		},
		&cli.StringFlag{
			Name:  flagPattern,
			Usage: "number of interior corners of the board, as `WIDTHxHEIGHT`",
			Value: "9x6",
		},
		&cli.Float64Flag{
			Name:  flagSquareSize,
			Usage: "side of a board square, in the unit of the extrinsics",
			Value: 1,
		},
	}
	calibrateFlags := []cli.Flag{
		&cli.IntFlag{
			Name:  flagMinViews,
			Usage: "minimum number of images showing the whole board",
			Value: calibration.DefaultMinViews,
		},
		&cli.StringFlag{
			Name:    flagOutput,
			Aliases: []string{"o"},
			Usage:   "write the calibration to `FILE`",
			Value:   "calibration.yml",
		},
		&cli.StringFlag{
			Name:  flagDrawDir,
			Usage: "write the detected corners drawn over every image to `DIR`",
		},
		&cli.StringFlag{
			Name:  flagPlot,
			Usage: "write a chart of the reprojection error of every view to `FILE` (png, svg or pdf)",
		},
		&cli.StringFlag{
			Name:  flagCameraJSON,
			Usage: "also write the camera intrinsics and distortion as JSON to `FILE`",
		},
	}
	for _, name := range []string{
		flagFixK1, flagFixK2, flagFixK3, flagZeroTangentDist, flagFixPrincipalPoint, flagFixAspectRatio, flagRationalModel,
	} {
		calibrateFlags = append(calibrateFlags, &cli.BoolFlag{
			Name:  name,
			Usage: fmt.Sprintf("calibrate with the %s flag", flagNames[name]),
		})
	}

	app := &cli.App{
		Name:  "calibrate",
		Usage: "calibrate a camera from chessboard images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write JSON logs to `FILE`",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
			}
			if path := c.String(flagLogFile); path != "" {
				fileAppender = logging.NewFileAppender(path, 64)
				logger.AddAppender(fileAppender)
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		After: func(c *cli.Context) error {
			if fileAppender == nil {
				return nil
			}
			return fileAppender.Close()
		},
		Commands: []*cli.Command{
			{
				Name:      "verify",
				Usage:     "report which images show the whole board",
				ArgsUsage: "IMAGE...",
				Flags:     patternFlags,
				Action: func(c *cli.Context) error {
					return verifyAction(c, logger)
				},
			},
			{
				Name:      "calibrate",
				Usage:     "fit a camera model to the images and write it as OpenCV YAML",
				ArgsUsage: "IMAGE...",
				Flags:     append(append([]cli.Flag{}, patternFlags...), calibrateFlags...),
				Action: func(c *cli.Context) error {
					return calibrateAction(c, logger)
				},
			},
			{
				Name:  "config-schema",
				Usage: "print the JSON schema of the session configuration file",
				Action: func(c *cli.Context) error {
					schema, err := json.MarshalIndent(jsonschema.Reflect(&calibration.Config{}), "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(schema))
					return nil
				},
			},
			{
				Name:      "undistort",
				Usage:     "remove the lens distortion of images with a calibration file",
				ArgsUsage: "IMAGE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagCalibration,
						Usage:    "read the calibration from `FILE`",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  flagAlpha,
						Usage: "free scaling, from 0 (only valid pixels) to 1 (all source pixels)",
						Value: 1,
					},
					&cli.StringFlag{
						Name:  flagOutputDir,
						Usage: "write the undistorted images to `DIR`",
						Value: ".",
					},
				},
				Action: func(c *cli.Context) error {
					return undistortAction(c, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error(err)
		utils.UncheckedError(logger.Sync())
		os.Exit(1)
	}
}

// sessionConfig builds the session configuration from the config file, if any, and the command line flags.
func sessionConfig(c *cli.Context) (calibration.Config, error) {
	var cfg calibration.Config
	if path := c.String(flagConfig); path != "" {
		read, err := calibration.ReadConfig(path)
		if err != nil {
			return calibration.Config{}, err
		}
		cfg = *read
	}
	if cfg.BoardWidth == 0 || c.IsSet(flagPattern) {
		size, err := calibration.ParsePatternSize(c.String(flagPattern))
		if err != nil {
			return calibration.Config{}, err
		}
		cfg.BoardWidth, cfg.BoardHeight = size.Width, size.Height
	}
	if cfg.SquareSize == 0 || c.IsSet(flagSquareSize) {
		cfg.SquareSize = c.Float64(flagSquareSize)
	}
	if c.IsSet(flagMinViews) || (cfg.MinViews == 0 && c.Command.Name == "calibrate") {
		cfg.MinViews = c.Int(flagMinViews)
	}
	for name, flag := range flagNames {
		if c.Bool(name) {
			cfg.Flags = append(cfg.Flags, flag)
		}
	}
	return cfg, nil
}

func readImages(paths []string) ([]image.Image, error) {
	if len(paths) == 0 {
		return nil, errors.New("no images given")
	}
	imgs := make([]image.Image, len(paths))
	for i, path := range paths {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read %q", path)
		}
		imgs[i] = img
	}
	return imgs, nil
}

func verifyAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := sessionConfig(c)
	if err != nil {
		return err
	}
	session, err := calibration.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(session.Close)

	imgs, err := readImages(c.Args().Slice())
	if err != nil {
		return err
	}
	valid, err := session.Preflight(c.Context, imgs)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Image", "Pattern"})
	found := 0
	for i, ok := range valid {
		status := color.RedString("missing")
		if ok {
			found++
			status = color.GreenString("found")
		}
		t.AppendRow(table.Row{i, c.Args().Get(i), status})
	}
	t.AppendFooter(table.Row{"", session.Config().PatternSpec.String(), fmt.Sprintf("%d/%d", found, len(valid))})
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func calibrateAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := sessionConfig(c)
	if err != nil {
		return err
	}
	session, err := calibration.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(session.Close)

	imgs, err := readImages(c.Args().Slice())
	if err != nil {
		return err
	}
	if dir := c.String(flagDrawDir); dir != "" {
		if err := drawDetections(c.Context, session, imgs, c.Args().Slice(), dir); err != nil {
			return err
		}
	}
	model, report, err := session.Calibrate(c.Context, imgs)
	if err != nil {
		return err
	}
	data, err := session.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.String(flagOutput), data, 0o600); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, reportTable(model, report, c.Args().Slice()))
	if path := c.String(flagPlot); path != "" {
		if err := plotErrors(report, path); err != nil {
			return err
		}
	}
	if path := c.String(flagCameraJSON); path != "" {
		cam, err := json.MarshalIndent(model.Camera, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, cam, 0o600); err != nil {
			return err
		}
	}
	logger.Infow("wrote calibration", "path", c.String(flagOutput))
	return nil
}

// reportTable lists the camera parameters and the mean reprojection error of every view.
func reportTable(model *calibration.Model, report calibration.ReprojectionReport, paths []string) string {
	t := table.NewWriter()
	t.SetTitle("fx %.3f  fy %.3f  cx %.3f  cy %.3f  distortion %.5f",
		model.Camera.Fx, model.Camera.Fy, model.Camera.Ppx, model.Camera.Ppy, model.DistortionCoefficients())
	t.AppendHeader(table.Row{"#", "Image", "Mean error (px)"})
	for i, idx := range model.ViewIndices {
		t.AppendRow(table.Row{idx, paths[idx], fmt.Sprintf("%.4f", report.PerView[i])})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("rms %.4f", model.RMS), fmt.Sprintf("%.4f", report.Mean)})
	return t.Render()
}

func plotErrors(report calibration.ReprojectionReport, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Reprojection error, mean %.3f px", report.Mean)
	p.X.Label.Text = "view"
	p.Y.Label.Text = "mean error (px)"
	bars, err := plotter.NewBarChart(plotter.Values(report.PerView), vg.Points(10))
	if err != nil {
		return err
	}
	p.Add(bars)
	mean := plotter.NewFunction(func(float64) float64 { return report.Mean })
	mean.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(mean)
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func drawDetections(ctx context.Context, session *calibration.Session, imgs []image.Image, paths []string, dir string) error {
	results, err := session.Detect(ctx, imgs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	pattern := session.Config().PatternSize()
	for i, res := range results {
		out := chessboard.DrawCorners(imgs[i], pattern, res)
		if err := imaging.Save(out, filepath.Join(dir, filepath.Base(paths[i])+".corners.png")); err != nil {
			return err
		}
	}
	return nil
}

func undistortAction(c *cli.Context, logger logging.Logger) error {
	//nolint:gosec
	data, err := os.ReadFile(c.String(flagCalibration))
	if err != nil {
		return err
	}
	model, err := calibration.Decode(data)
	if err != nil {
		return err
	}
	logger.Debugw("read calibration", "intrinsics", model.Intrinsics(), "distortion", model.DistortionCoefficients())

	paths := c.Args().Slice()
	imgs, err := readImages(paths)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.String(flagOutputDir), 0o700); err != nil {
		return err
	}
	for i, img := range imgs {
		out, err := model.UndistortImage(img, c.Float64(flagAlpha))
		if err != nil {
			return errors.Wrapf(err, "cannot undistort %q", paths[i])
		}
		name := filepath.Join(c.String(flagOutputDir), "undistorted_"+filepath.Base(paths[i]))
		if err := imaging.Save(out, name); err != nil {
			return err
		}
		logger.Infow("wrote undistorted image", "path", name)
	}
	return nil
}
