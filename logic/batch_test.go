package logic

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"

	"github.com/wesleylin/BatchGenPro/dao/store"
	"github.com/wesleylin/BatchGenPro/generator"
	"github.com/wesleylin/BatchGenPro/models"
)

// stubGenerator 按提示词决定成败，并记录调用顺序
type stubGenerator struct {
	calls   []string
	failOn  map[string]bool
	onCall  func(n int)
	nCalled int
}

func (s *stubGenerator) Generate(_ []byte, prompt string) *generator.GenerateResult {
	s.nCalled++
	s.calls = append(s.calls, prompt)
	if s.onCall != nil {
		s.onCall(s.nCalled)
	}
	if s.failOn[prompt] {
		return &generator.GenerateResult{Success: false, Error: "生成失败", APIType: "stub"}
	}
	return &generator.GenerateResult{
		Success:           true,
		GeneratedImageURL: fmt.Sprintf("/static/results/%d.png", s.nCalled),
		GeneratedFilename: fmt.Sprintf("%d.png", s.nCalled),
		APIType:           "stub",
	}
}

func newTestProcessor(t *testing.T) (*BatchProcessor, *store.BatchTaskManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tasks := store.NewBatchTaskManager(client)
	p := NewBatchProcessor(tasks, nil)
	p.delay = 0
	return p, tasks
}

func makeTask(t *testing.T, tasks *store.BatchTaskManager, prompts []string) (string, []BatchItem) {
	t.Helper()
	seeds := make([]store.ImageSeed, 0, len(prompts))
	items := make([]BatchItem, 0, len(prompts))
	for i, prompt := range prompts {
		filename := fmt.Sprintf("img_%d.png", i+1)
		seeds = append(seeds, store.ImageSeed{Filename: filename, Prompt: prompt})
		items = append(items, BatchItem{Filename: filename, Prompt: prompt})
	}
	taskID, _, err := tasks.CreateTask("sess-1", seeds, prompts[0], "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return taskID, items
}

func TestProcessBatchTaskAllSuccess(t *testing.T) {
	p, tasks := newTestProcessor(t)
	taskID, items := makeTask(t, tasks, []string{"换海边背景", "换雪山背景", "换城市背景"})

	gen := &stubGenerator{}
	res := p.ProcessBatchTask("sess-1", taskID, items, gen)
	p.FinishBatchTask("sess-1", taskID, res)

	if !res.Success {
		t.Fatalf("batch failed: %s", res.Error)
	}
	if res.CompletedImages != 3 || res.TotalImages != 3 {
		t.Fatalf("completed=%d total=%d", res.CompletedImages, res.TotalImages)
	}

	got, _ := tasks.GetTask("sess-1", taskID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Results.SuccessCount != 3 || got.Results.FailedCount != 0 {
		t.Fatalf("counters = %+v", got.Results)
	}
	// 条目严格按提交顺序处理
	want := []string{"换海边背景", "换雪山背景", "换城市背景"}
	for i, prompt := range want {
		if gen.calls[i] != prompt {
			t.Fatalf("call %d used prompt %q, want %q", i, gen.calls[i], prompt)
		}
	}
}

func TestProcessBatchTaskItemFailureContinues(t *testing.T) {
	p, tasks := newTestProcessor(t)
	taskID, items := makeTask(t, tasks, []string{"p1", "坏提示词", "p3"})

	gen := &stubGenerator{failOn: map[string]bool{"坏提示词": true}}
	res := p.ProcessBatchTask("sess-1", taskID, items, gen)
	p.FinishBatchTask("sess-1", taskID, res)

	if !res.Success {
		t.Fatalf("batch-level success flag should survive item failure: %s", res.Error)
	}
	if len(gen.calls) != 3 {
		t.Fatalf("loop stopped after failure: %d calls", len(gen.calls))
	}

	got, _ := tasks.GetTask("sess-1", taskID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Results.SuccessCount != 2 || got.Results.FailedCount != 1 {
		t.Fatalf("counters = %+v", got.Results)
	}
	if got.Images[1].Status != models.StatusFailed {
		t.Fatalf("failed slot status = %q", got.Images[1].Status)
	}
}

func TestProcessBatchTaskResultPromptPerItem(t *testing.T) {
	p, tasks := newTestProcessor(t)
	taskID, items := makeTask(t, tasks, []string{"p1", "p2"})

	gen := &stubGenerator{}
	res := p.ProcessBatchTask("sess-1", taskID, items, gen)

	if len(res.Results) != 2 {
		t.Fatalf("results = %d", len(res.Results))
	}
	for i, r := range res.Results {
		if r.Prompt != items[i].Prompt {
			t.Fatalf("result %d prompt = %q, want %q", i, r.Prompt, items[i].Prompt)
		}
	}

	got, _ := tasks.GetTask("sess-1", taskID)
	for i, g := range got.Results.GeneratedImages {
		if g.Prompt != items[i].Prompt {
			t.Fatalf("stored result %d prompt = %q", i, g.Prompt)
		}
	}
}

func TestProcessBatchTaskCancellation(t *testing.T) {
	p, tasks := newTestProcessor(t)
	taskID, items := makeTask(t, tasks, []string{"p1", "p2", "p3", "p4"})

	gen := &stubGenerator{}
	// 第二个条目处理完后外部取消，循环应在第三个条目前停下
	gen.onCall = func(n int) {
		if n == 2 {
			if _, err := tasks.CancelTask("sess-1", taskID); err != nil {
				t.Fatalf("CancelTask: %v", err)
			}
		}
	}

	res := p.ProcessBatchTask("sess-1", taskID, items, gen)
	p.FinishBatchTask("sess-1", taskID, res)

	if len(gen.calls) != 2 {
		t.Fatalf("generator called %d times, want 2", len(gen.calls))
	}

	got, _ := tasks.GetTask("sess-1", taskID)
	// FinishBatchTask 不得覆盖 cancelled
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	// 已完成的结果保留，未处理的槽位标记为 cancelled
	if got.Results.SuccessCount != 2 {
		t.Fatalf("success count = %d, want 2", got.Results.SuccessCount)
	}
	for _, img := range got.Images[2:] {
		if img.Status != models.StatusCancelled {
			t.Fatalf("untouched slot status = %q, want cancelled", img.Status)
		}
	}
}

func TestFinishBatchTaskMarksFailure(t *testing.T) {
	p, tasks := newTestProcessor(t)
	taskID, _ := makeTask(t, tasks, []string{"p1"})

	if _, err := tasks.UpdateTaskStatus("sess-1", taskID, models.StatusProcessing, nil); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	p.FinishBatchTask("sess-1", taskID, &BatchResult{Success: false, TaskID: taskID, Error: "boom"})

	got, _ := tasks.GetTask("sess-1", taskID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}
