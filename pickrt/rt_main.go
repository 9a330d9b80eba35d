package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/app"
	"github.com/gekko3d/raypick/pickrt/rt/bvh"
	"github.com/gekko3d/raypick/pickrt/rt/core"
	"github.com/gekko3d/raypick/pickrt/rt/gpu"
	"github.com/gekko3d/raypick/pickrt/rt/gpu/soft"
	"github.com/gekko3d/raypick/pickrt/rt/gpu/wgpudev"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	a := cli.NewApp()
	a.Name = "pickrt"
	a.Usage = "GPU ray picking against meshes, instances and text"
	a.Version = "0.1.0"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML config file",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}
	a.Commands = []cli.Command{
		{
			Name:   "view",
			Usage:  "open a window and pick under the cursor",
			Action: runView,
		},
		{
			Name:  "pick",
			Usage: "run one headless pick through a framebuffer pixel",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "backend",
					Value: "soft",
					Usage: "soft or wgpu",
				},
				cli.Float64Flag{
					Name:  "x",
					Value: -1,
					Usage: "pixel x, defaults to the center",
				},
				cli.Float64Flag{
					Name:  "y",
					Value: -1,
					Usage: "pixel y, defaults to the center",
				},
			},
			Action: runPick,
		},
		{
			Name:      "bvh",
			Usage:     "build BVHs for procedural meshes and print statistics",
			ArgsUsage: "[cube|grid|sphere ...]",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "detail",
					Value: 16,
					Usage: "grid resolution or sphere ring count",
				},
			},
			Action: runBVH,
		},
		{
			Name:   "config",
			Usage:  "print the effective config",
			Action: runConfig,
		},
	}

	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(ctx *cli.Context) (raypick.Config, raypick.Logger, error) {
	cfg, err := raypick.LoadConfig(ctx.GlobalString("config"))
	if err != nil {
		return cfg, nil, err
	}
	if ctx.GlobalBool("debug") {
		cfg.Log.Debug = true
	}
	return cfg, raypick.NewConfigLogger(cfg.Log), nil
}

func runView(ctx *cli.Context) error {
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}

	if err := glfw.Init(); err != nil {
		return err
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		return err
	}
	defer window.Destroy()

	application := app.NewApp(window, cfg, log)
	application.DebugMode = cfg.Log.Debug
	defer application.Release()
	if err := application.Init(); err != nil {
		return err
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	var lastX, lastY float64
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if application.MouseCaptured {
			application.Camera.Orbit(float32(xpos-lastX), float32(ypos-lastY))
		}
		lastX, lastY = xpos, ypos
		application.MouseX = xpos
		application.MouseY = ypos
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyTab:
			application.MouseCaptured = !application.MouseCaptured
			if application.MouseCaptured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		case glfw.KeyP:
			application.Animate = !application.Animate
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		}
	})

	window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		application.HandleClick(button, action)
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		application.Render()
	}
	return nil
}

func openDevice(backend string) (gpu.Device, func(), error) {
	switch backend {
	case "soft":
		return soft.New(), func() {}, nil
	case "wgpu":
		d, err := wgpudev.NewHeadless()
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", backend)
}

func runPick(ctx *cli.Context) error {
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	dev, closeDev, err := openDevice(ctx.String("backend"))
	if err != nil {
		return err
	}
	defer closeDev()

	scene, err := app.NewScene(dev, cfg, log)
	if err != nil {
		if !raypick.IsFatal(err) {
			log.Warnf("scene: %v", err)
			return nil
		}
		return err
	}
	defer scene.Release()

	vp := core.FullViewport(cfg.Window.Width, cfg.Window.Height)
	px, py := float32(ctx.Float64("x")), float32(ctx.Float64("y"))
	if px < 0 {
		px = vp.Width / 2
	}
	if py < 0 {
		py = vp.Height / 2
	}

	cam := core.NewCameraFromConfig(cfg.Camera)
	sel, ok, err := scene.PickPixel(cam, vp, px, py)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("pixel (%.0f, %.0f): %s\n", px, py, scene.Describe(sel))
	} else {
		fmt.Printf("pixel (%.0f, %.0f): no hit\n", px, py)
	}
	if cfg.Log.Debug {
		fmt.Print(scene.Profiler.Table())
	}
	return nil
}

func runBVH(ctx *cli.Context) error {
	names := ctx.Args()
	if len(names) == 0 {
		names = []string{"cube", "grid", "sphere"}
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Mesh", "Triangles", "Nodes", "Leaves", "Depth", "Leaf size", "Size"})
	for _, name := range names {
		mesh, err := core.MeshByName(name, ctx.Int("detail"))
		if err != nil {
			return err
		}
		lin, err := bvh.Build(mesh.Positions, mesh.Indices)
		if errors.Is(err, bvh.ErrNoTriangles) {
			table.Append([]string{name, "0", "-", "-", "-", "-", "-"})
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		st := lin.Stats()
		table.Append([]string{
			name,
			fmt.Sprintf("%d", st.Triangles),
			fmt.Sprintf("%d", st.Nodes),
			fmt.Sprintf("%d", st.Leaves),
			fmt.Sprintf("%d", st.Depth),
			fmt.Sprintf("%d..%d (avg %.1f)", st.MinLeaf, st.MaxLeaf, st.AvgLeaf),
			fmt.Sprintf("%d B", st.NodeBytes+st.TriBytes),
		})
	}
	table.Render()
	fmt.Print(buf.String())
	return nil
}

func runConfig(ctx *cli.Context) error {
	cfg, _, err := setup(ctx)
	if err != nil {
		return err
	}
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
