package app

import (
	"fmt"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/core"
	"github.com/gekko3d/raypick/pickrt/rt/gpu/wgpudev"
	"github.com/gekko3d/raypick/pickrt/rt/picking"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

var clearColors = map[Role]wgpu.Color{
	RoleNone:     {R: 0.05, G: 0.05, B: 0.08, A: 1},
	RoleMesh:     {R: 0.35, G: 0.12, B: 0.12, A: 1},
	RoleInstance: {R: 0.12, G: 0.32, B: 0.12, A: 1},
	RoleText:     {R: 0.12, G: 0.16, B: 0.38, A: 1},
}

// App shows the picking scene in a window. The screen is cleared to a color
// for the kind of object under the pointer; clicks are logged.
type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Picks  *wgpudev.Device
	Scene  *Scene
	Camera *core.CameraState

	Log       raypick.Logger
	Settings  raypick.Config
	DebugMode bool
	Animate   bool

	MouseX, MouseY float64
	MouseCaptured  bool

	LastTime       float64
	LastRenderTime float64
	FrameCount     int
	FPS            float64
	FPSTime        float64
}

func NewApp(window *glfw.Window, cfg raypick.Config, log raypick.Logger) *App {
	return &App{
		Window:   window,
		Camera:   core.NewCameraFromConfig(cfg.Camera),
		Log:      raypick.OrNop(log),
		Settings: cfg,
		Animate:  true,
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	a.Picks = wgpudev.New(a.Device)
	a.Scene, err = NewScene(a.Picks, a.Settings, a.Log)
	if err != nil {
		return fmt.Errorf("failed to build scene: %w", err)
	}
	a.Scene.Arbiter.OnEnter = func(s picking.Selection) {
		a.Log.Debugf("enter %s", a.Scene.Describe(s))
	}
	a.Scene.Arbiter.OnLeave = func(s picking.Selection) {
		a.Log.Debugf("leave %s", a.Scene.Describe(s))
	}
	a.Scene.Arbiter.OnClick = func(s picking.Selection) {
		a.Log.Infof("clicked %s", a.Scene.Describe(s))
	}
	return nil
}

func (a *App) Resize(w, h int) {
	if w > 0 && h > 0 {
		a.Config.Width = uint32(w)
		a.Config.Height = uint32(h)
		a.Surface.Configure(a.Adapter, a.Device, a.Config)
	}
}

func (a *App) viewport() core.Viewport {
	return core.FullViewport(int(a.Config.Width), int(a.Config.Height))
}

// pointer converts the cursor from window to framebuffer pixels.
func (a *App) pointer() (float32, float32) {
	ww, wh := a.Window.GetSize()
	return core.WindowToFramebuffer(a.MouseX, a.MouseY, ww, wh, int(a.Config.Width), int(a.Config.Height))
}

func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	if a.LastTime == 0 {
		dt = 0
	}
	a.LastTime = now

	a.move(dt)
	if a.Animate {
		if err := a.Scene.Animate(now); err != nil {
			a.Log.Warnf("animate: %v", err)
		}
	}

	if a.MouseCaptured {
		return
	}
	px, py := a.pointer()
	if _, _, err := a.Scene.PickPixel(a.Camera, a.viewport(), px, py); err != nil {
		a.Log.Errorf("pick: %v", err)
	}
}

func (a *App) move(dt float32) {
	key := func(k glfw.Key) float32 {
		if a.Window.GetKey(k) == glfw.Press {
			return 1
		}
		return 0
	}
	forward := key(glfw.KeyW) - key(glfw.KeyS)
	right := key(glfw.KeyD) - key(glfw.KeyA)
	up := key(glfw.KeySpace) - key(glfw.KeyLeftShift)
	a.Camera.Move(forward, right, up, dt)
}

func (a *App) Render() {
	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.Log.Errorf("GetCurrentTexture failed: %v", err)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Log.Errorf("CreateView failed: %v", err)
		return
	}
	defer view.Release()

	encoder, err := a.Device.CreateCommandEncoder(nil)
	if err != nil {
		a.Log.Errorf("CreateCommandEncoder failed: %v", err)
		return
	}
	defer encoder.Release()

	role := RoleNone
	if sel, ok := a.Scene.Arbiter.Current(); ok {
		role = a.Scene.Role(sel.Owner)
	}
	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: clearColors[role],
		}},
	})
	if err := rPass.End(); err != nil {
		a.Log.Errorf("render pass End failed: %v", err)
	}
	rPass.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		a.Log.Errorf("encoder Finish failed: %v", err)
		return
	}
	defer cmd.Release()
	a.Queue.Submit(cmd)
	a.Surface.Present()

	a.countFrame()
}

func (a *App) countFrame() {
	now := glfw.GetTime()
	if a.LastRenderTime == 0 {
		a.LastRenderTime = now
		return
	}
	a.FrameCount++
	a.FPSTime += now - a.LastRenderTime
	a.LastRenderTime = now
	if a.FPSTime < 1.0 {
		return
	}
	a.FPS = float64(a.FrameCount) / a.FPSTime
	a.FrameCount = 0
	a.FPSTime = 0

	title := fmt.Sprintf("%s  %.0f fps", a.Settings.Window.Title, a.FPS)
	if sel, ok := a.Scene.Arbiter.Current(); ok {
		title += "  " + a.Scene.Describe(sel)
	}
	a.Window.SetTitle(title)
	if a.DebugMode {
		a.Log.Debugf("frame stats\n%s", a.Scene.Profiler.Table())
		a.Scene.Profiler.Reset()
	}
}

func (a *App) HandleClick(button glfw.MouseButton, action glfw.Action) {
	if a.MouseCaptured || action != glfw.Press || button != glfw.MouseButtonLeft {
		return
	}
	if _, ok := a.Scene.Arbiter.Click(); !ok {
		a.Log.Infof("clicked nothing")
	}
}

func (a *App) Release() {
	if a.Scene != nil {
		a.Scene.Release()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}

func GetSurfaceDescriptor(w *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w)
}
