package gpu

import (
	"fmt"
	"sync"

	"golang.org/x/image/math/f64"
)

// DrawCall is one recorded DrawQuad.
type DrawCall struct {
	Tex     TextureID
	M       f64.Aff3
	Opacity float64
}

// Recorder is a Backend that keeps no pixels; it tracks texture lifetimes and
// the draw calls of the current frame. It is used by tests and by headless
// runs that only need statistics.
type Recorder struct {
	mu       sync.Mutex
	next     TextureID
	live     map[TextureID][2]int
	created  int
	destroys int
	bad      []string
	draws    []DrawCall
	uploads  int
}

func NewRecorder() *Recorder {
	return &Recorder{live: make(map[TextureID][2]int)}
}

func (r *Recorder) CreateTexture(w, h int) (TextureID, error) {
	if w <= 0 || h <= 0 {
		return InvalidTexture, fmt.Errorf("gpu: invalid texture size %dx%d", w, h)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.created++
	r.live[r.next] = [2]int{w, h}
	return r.next, nil
}

func (r *Recorder) DestroyTexture(tex TextureID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[tex]; !ok {
		r.bad = append(r.bad, fmt.Sprintf("destroy of dead texture %d", tex))
		return
	}
	delete(r.live, tex)
	r.destroys++
}

func (r *Recorder) Upload(tex TextureID, x, y, w, h int, pix []byte) error {
	if err := validUpload(w, h, pix); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sz, ok := r.live[tex]
	if !ok {
		return ErrUnknownTexture
	}
	if x < 0 || y < 0 || x+w > sz[0] || y+h > sz[1] {
		return fmt.Errorf("gpu: upload %dx%d at (%d,%d) outside %dx%d texture", w, h, x, y, sz[0], sz[1])
	}
	r.uploads++
	return nil
}

func (r *Recorder) DrawQuad(tex TextureID, m f64.Aff3, opacity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[tex]; !ok {
		r.bad = append(r.bad, fmt.Sprintf("draw of dead texture %d", tex))
		return
	}
	r.draws = append(r.draws, DrawCall{Tex: tex, M: m, Opacity: opacity})
}

// BeginFrame clears the recorded draw calls.
func (r *Recorder) BeginFrame() {
	r.mu.Lock()
	r.draws = r.draws[:0]
	r.mu.Unlock()
}

func (r *Recorder) EndFrame() {}

// Draws returns the draw calls recorded since the last BeginFrame.
func (r *Recorder) Draws() []DrawCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DrawCall(nil), r.draws...)
}

// Live returns the number of textures not yet destroyed.
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Counts returns lifetime create, destroy and upload counts.
func (r *Recorder) Counts() (created, destroyed, uploads int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created, r.destroys, r.uploads
}

// Violations lists misuse such as double destroys or draws of freed textures.
func (r *Recorder) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bad...)
}
