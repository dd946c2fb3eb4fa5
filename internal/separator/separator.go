// Package separator wraps the demucs source-separation subprocess and
// exposes the contract the job worker drives: separate one input file
// into vocals and instrumental stems with progress and cancellation.
package separator

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/logger"
)

// ProgressFunc receives normalized progress in [0,100] plus a short
// human-readable message.
type ProgressFunc func(percent float64, message string)

// Separator is the contract the worker depends on. Tests substitute a
// fake; production uses Demucs.
type Separator interface {
	Separate(ctx context.Context, inputPath, songDir string, onProgress ProgressFunc) (vocalsPath, instrumentalPath string, err error)
}

// Demucs drives the demucs CLI.
type Demucs struct {
	binPath    string
	ffmpegPath string
	model      string
	mp3Bitrate int

	deviceOnce sync.Once
	device     string
}

// NewDemucs creates a demucs adapter. model is the separation model
// name; mp3Bitrate applies when the output format is MP3.
func NewDemucs(binPath, ffmpegPath, model string, mp3Bitrate int) *Demucs {
	return &Demucs{
		binPath:    binPath,
		ffmpegPath: ffmpegPath,
		model:      model,
		mp3Bitrate: mp3Bitrate,
	}
}

// progressLine matches tqdm-style percent output on demucs stderr.
var progressLine = regexp.MustCompile(`(\d+)%\|`)

// bagLine matches the model-count banner demucs prints at startup.
var bagLine = regexp.MustCompile(`bag of (\d+) models`)

// OutputExt returns the stem extension for an input extension: wav and
// mp3 stay themselves, everything else becomes wav.
func OutputExt(inputExt string) string {
	switch strings.ToLower(inputExt) {
	case ".mp3", ".wav":
		return strings.ToLower(inputExt)
	default:
		return ".wav"
	}
}

// Device reports the compute device demucs will use: "cuda" when an
// NVIDIA GPU responds to a probe, else "cpu". Probed once per process.
func (d *Demucs) Device() string {
	d.deviceOnce.Do(func() {
		d.device = "cpu"
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exec.CommandContext(ctx, "nvidia-smi", "-L").Run(); err == nil {
			d.device = "cuda"
		}
	})
	return d.device
}

// Separate runs demucs on inputPath and writes vocals.<ext> and
// instrumental.<ext> into songDir. Stems are produced in a scratch
// directory and renamed into place only on success, so cancellation and
// failure leave no partial stem files.
func (d *Demucs) Separate(ctx context.Context, inputPath, songDir string, onProgress ProgressFunc) (string, string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", "", apperr.NewWithMessage("Demucs.Separate", apperr.ErrSeparation,
			"input file missing: "+inputPath)
	}

	device := d.Device()
	report(onProgress, 0, fmt.Sprintf("Separating on %s (model %s)", device, d.model))

	if err := ctx.Err(); err != nil {
		return "", "", apperr.Wrap("Demucs.Separate", apperr.ErrCancelled)
	}

	ext := OutputExt(filepath.Ext(inputPath))

	scratch, err := os.MkdirTemp(songDir, "separate-*")
	if err != nil {
		return "", "", apperr.Wrap("Demucs.Separate", err)
	}
	defer os.RemoveAll(scratch)

	args := []string{
		"-n", d.model,
		"--device", device,
		"-o", scratch,
	}
	// Two-stem mixing happens inside demucs when the model supports it;
	// multi-stem models emit every stem and the adapter sums the
	// non-vocal ones itself.
	if twoStemCapable(d.model) {
		args = append(args, "--two-stems", "vocals")
	}
	if ext == ".mp3" {
		args = append(args, "--mp3", "--mp3-bitrate", strconv.Itoa(d.mp3Bitrate))
	}
	args = append(args, inputPath)

	cmd := exec.CommandContext(ctx, d.binPath, args...)
	cmd.Env = append(cmd.Environ(), "PYTHONUNBUFFERED=1")

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", "", apperr.Wrap("Demucs.Separate", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", apperr.Wrap("Demucs.Separate", err)
	}

	if err := cmd.Start(); err != nil {
		return "", "", apperr.NewWithMessage("Demucs.Separate", apperr.ErrSeparation,
			"failed to start demucs: "+err.Error())
	}

	go func() {
		<-ctx.Done()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	var wg sync.WaitGroup
	tracker := newProgressTracker(onProgress)

	// tqdm progress arrives on stderr, split on carriage returns.
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Split(scanCRorLF)
		for scanner.Scan() {
			tracker.observe(scanner.Text())
		}
	}()

	// stdout carries banner text; it must be drained either way.
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			_ = scanner.Text()
		}
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		select {
		case <-ctx.Done():
			return "", "", apperr.Wrap("Demucs.Separate", apperr.ErrCancelled)
		default:
			return "", "", apperr.NewWithMessage("Demucs.Separate", apperr.ErrSeparation,
				"demucs exited abnormally: "+cmdErr.Error())
		}
	}

	vocals, instrumental, err := d.collectStems(ctx, scratch, inputPath, songDir, ext)
	if err != nil {
		return "", "", err
	}

	report(onProgress, 100, "Separation complete")
	logger.Log.Info().
		Str("input", inputPath).
		Str("device", device).
		Str("ext", ext).
		Msg("separation finished")
	return vocals, instrumental, nil
}

// twoStemCapable reports whether the model supports demucs' built-in
// --two-stems mixing. Other models emit their full stem set, which the
// adapter mixes down itself.
func twoStemCapable(model string) bool {
	switch model {
	case "htdemucs", "htdemucs_ft", "hdemucs_mmi", "mdx", "mdx_extra", "mdx_q", "mdx_extra_q":
		return true
	}
	return false
}

// collectStems moves demucs output from the scratch tree into the song
// directory. In two-stem mode demucs already produced the non-vocal
// remainder as no_vocals; for multi-stem models the instrumental is the
// sum of every produced stem except vocals, mixed with ffmpeg.
func (d *Demucs) collectStems(ctx context.Context, scratch, inputPath, songDir, ext string) (string, string, error) {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	stemDir := filepath.Join(scratch, d.model, base)

	vocalsSrc := filepath.Join(stemDir, "vocals"+ext)
	if info, err := os.Stat(vocalsSrc); err != nil || info.Size() == 0 {
		return "", "", apperr.NewWithMessage("Demucs.collectStems", apperr.ErrSeparation,
			"demucs finished without producing vocals"+ext)
	}

	instrumentalSrc := filepath.Join(stemDir, "no_vocals"+ext)
	if info, err := os.Stat(instrumentalSrc); err != nil || info.Size() == 0 {
		mixed, err := d.mixInstrumental(ctx, stemDir, ext)
		if err != nil {
			return "", "", err
		}
		instrumentalSrc = mixed
	}

	vocalsDst := filepath.Join(songDir, "vocals"+ext)
	instrumentalDst := filepath.Join(songDir, "instrumental"+ext)

	if err := os.Rename(vocalsSrc, vocalsDst); err != nil {
		return "", "", apperr.Wrap("Demucs.collectStems", err)
	}
	if err := os.Rename(instrumentalSrc, instrumentalDst); err != nil {
		os.Remove(vocalsDst)
		return "", "", apperr.Wrap("Demucs.collectStems", err)
	}
	return vocalsDst, instrumentalDst, nil
}

// mixInstrumental sums every non-vocal stem in stemDir into a single
// instrumental track via ffmpeg amix. The mix lands in the scratch
// tree; collectStems renames it into place.
func (d *Demucs) mixInstrumental(ctx context.Context, stemDir, ext string) (string, error) {
	entries, err := os.ReadDir(stemDir)
	if err != nil {
		return "", apperr.Wrap("Demucs.mixInstrumental", err)
	}

	var inputs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || name == "vocals"+ext {
			continue
		}
		inputs = append(inputs, filepath.Join(stemDir, name))
	}
	if len(inputs) == 0 {
		return "", apperr.NewWithMessage("Demucs.mixInstrumental", apperr.ErrSeparation,
			"demucs produced no non-vocal stems")
	}

	out := filepath.Join(stemDir, "instrumental-mix"+ext)
	if len(inputs) == 1 {
		return inputs[0], nil
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, buildMixArgs(inputs, out, ext, d.mp3Bitrate)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		select {
		case <-ctx.Done():
			return "", apperr.Wrap("Demucs.mixInstrumental", apperr.ErrCancelled)
		default:
		}
		return "", apperr.NewWithMessage("Demucs.mixInstrumental", apperr.ErrSeparation,
			"ffmpeg amix failed: "+strings.TrimSpace(string(output)))
	}

	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		return "", apperr.NewWithMessage("Demucs.mixInstrumental", apperr.ErrSeparation,
			"ffmpeg amix produced no output")
	}
	return out, nil
}

// buildMixArgs assembles the ffmpeg invocation summing the inputs.
// normalize=0 keeps amix from attenuating each stem, so the result is a
// true sum like demucs' own two-stem remainder.
func buildMixArgs(inputs []string, out, ext string, mp3Bitrate int) []string {
	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	args = append(args, "-filter_complex",
		fmt.Sprintf("amix=inputs=%d:normalize=0", len(inputs)))

	if ext == ".mp3" {
		args = append(args, "-b:a", strconv.Itoa(mp3Bitrate)+"k")
	} else {
		args = append(args, "-c:a", "pcm_s16le")
	}
	return append(args, out)
}

func report(onProgress ProgressFunc, percent float64, message string) {
	if onProgress != nil {
		onProgress(percent, message)
	}
}

// progressTracker folds demucs' per-model tqdm output into a single
// 0-100 figure. The model count comes from the "bag of N models"
// banner; models run sequentially, and a percentage that drops sharply
// means the next model started. Reported progress never decreases, and
// callbacks are throttled to one per 500ms except the final 100%.
type progressTracker struct {
	onProgress   ProgressFunc
	modelCount   int
	currentModel int
	lastPercent  float64
	reported     float64
	lastReport   time.Time
}

func newProgressTracker(onProgress ProgressFunc) *progressTracker {
	return &progressTracker{
		onProgress: onProgress,
		modelCount: 1,
	}
}

func (t *progressTracker) observe(rawLine string) {
	line := strings.TrimSpace(rawLine)

	if matches := bagLine.FindStringSubmatch(line); len(matches) >= 2 {
		if n, err := strconv.Atoi(matches[1]); err == nil && n > 0 {
			t.modelCount = n
		}
		return
	}

	matches := progressLine.FindStringSubmatch(line)
	if len(matches) < 2 {
		return
	}
	percent, err := strconv.ParseFloat(matches[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return
	}

	if percent < t.lastPercent-50 {
		t.currentModel++
		if t.currentModel+1 > t.modelCount {
			t.modelCount = t.currentModel + 1
		}
	}
	t.lastPercent = percent

	overall := (float64(t.currentModel)*100 + percent) / float64(t.modelCount)
	if overall > 100 {
		overall = 100
	}
	if overall < t.reported {
		overall = t.reported
	}
	t.reported = overall

	now := time.Now()
	if overall < 100 && now.Sub(t.lastReport) < 500*time.Millisecond {
		return
	}
	t.lastReport = now
	report(t.onProgress, overall, fmt.Sprintf("Separating stems: %.0f%%", overall))
}

// scanCRorLF splits on \r, \n or \r\n so tqdm's carriage-return
// updates surface as individual lines.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
