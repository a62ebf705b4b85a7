package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"

	"github.com/wesleylin/BatchGenPro/generator"
	"github.com/wesleylin/BatchGenPro/models"
)

func newTestTaskManager(t *testing.T) *BatchTaskManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBatchTaskManager(client)
}

func seeds(n int) []ImageSeed {
	out := make([]ImageSeed, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ImageSeed{
			Filename: "img_" + string(rune('a'+i)) + ".png",
			Prompt:   "把背景换成海边",
		})
	}
	return out
}

func okResult(url string) *generator.GenerateResult {
	return &generator.GenerateResult{
		Success:           true,
		GeneratedImageURL: url,
		GeneratedFilename: "gen.png",
		APIType:           generator.APITypeGemini,
	}
}

func failResult(msg string) *generator.GenerateResult {
	return &generator.GenerateResult{
		Success: false,
		Error:   msg,
		APIType: generator.APITypeGemini,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, created, err := m.CreateTask("sess-1", seeds(3), "把背景换成海边", "gemini", "gemini-2.5-flash-image")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if taskID == "" || created.TaskID != taskID {
		t.Fatalf("task id mismatch: %q vs %q", taskID, created.TaskID)
	}

	got, err := m.GetTask("sess-1", taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("GetTask returned nil for existing task")
	}
	if got.Status != models.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.TotalImages != 3 || len(got.Images) != 3 || len(got.Items) != 3 {
		t.Fatalf("unexpected sizes: total=%d images=%d items=%d", got.TotalImages, len(got.Images), len(got.Items))
	}
	for i, item := range got.Items {
		if item.Index != i {
			t.Fatalf("item %d has index %d", i, item.Index)
		}
		if item.Status != models.StatusPending {
			t.Fatalf("item %d status = %q", i, item.Status)
		}
	}
	if got.Results.SuccessCount != 0 || got.Results.FailedCount != 0 {
		t.Fatalf("new task has non-zero counters: %+v", got.Results)
	}

	// 无写入的情况下重复读取返回相同快照
	again, err := m.GetTask("sess-1", taskID)
	if err != nil {
		t.Fatalf("second GetTask: %v", err)
	}
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("snapshots differ between reads:\n%+v\n%+v", got, again)
	}
}

func TestGetTaskMissing(t *testing.T) {
	m := newTestTaskManager(t)

	got, err := m.GetTask("sess-1", "no-such-task")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing task, got %+v", got)
	}
}

func TestAddTaskResultAllSuccess(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, created, err := m.CreateTask("sess-1", seeds(2), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	for _, img := range created.Images {
		if _, err := m.AddTaskResult("sess-1", taskID, img.Filename, okResult("/static/results/"+img.Filename)); err != nil {
			t.Fatalf("AddTaskResult(%s): %v", img.Filename, err)
		}
	}

	got, err := m.GetTask("sess-1", taskID)
	if err != nil || got == nil {
		t.Fatalf("GetTask: %v %v", got, err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %v, want 100", got.Progress)
	}
	if got.ProcessedImages != 2 {
		t.Fatalf("processed = %d, want 2", got.ProcessedImages)
	}
	if got.Results.SuccessCount != 2 || got.Results.FailedCount != 0 {
		t.Fatalf("counters = %+v", got.Results)
	}
	if len(got.Results.GeneratedImages) != 2 {
		t.Fatalf("generated_images = %d, want 2", len(got.Results.GeneratedImages))
	}
	for _, img := range got.Images {
		if img.Status != models.StatusCompleted || img.ResultURL == nil {
			t.Fatalf("image slot not completed: %+v", img)
		}
	}
}

func TestAddTaskResultMixedFailure(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, created, err := m.CreateTask("sess-1", seeds(2), "p", "doubao", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := m.AddTaskResult("sess-1", taskID, created.Images[0].Filename, okResult("/static/results/a.png")); err != nil {
		t.Fatalf("AddTaskResult ok: %v", err)
	}
	if _, err := m.AddTaskResult("sess-1", taskID, created.Images[1].Filename, failResult("API调用失败")); err != nil {
		t.Fatalf("AddTaskResult fail: %v", err)
	}

	got, _ := m.GetTask("sess-1", taskID)
	// 有失败条目整批仍算完成
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Results.SuccessCount != 1 || got.Results.FailedCount != 1 {
		t.Fatalf("counters = %+v", got.Results)
	}
	if len(got.Results.GeneratedImages) != 2 {
		t.Fatalf("generated_images = %d, want 2 (failures included)", len(got.Results.GeneratedImages))
	}
	failed := got.Images[1]
	if failed.Status != models.StatusFailed || failed.Error == nil || *failed.Error != "API调用失败" {
		t.Fatalf("failed slot = %+v", failed)
	}
}

func TestAddTaskResultPartialProgress(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, created, err := m.CreateTask("sess-1", seeds(4), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := m.AddTaskResult("sess-1", taskID, created.Images[0].Filename, okResult("/u"))
	if err != nil {
		t.Fatalf("AddTaskResult: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("status changed early: %q", got.Status)
	}
	if got.Progress != 25 {
		t.Fatalf("progress = %v, want 25", got.Progress)
	}
	if got.ProcessedImages != 1 {
		t.Fatalf("processed = %d, want 1", got.ProcessedImages)
	}
}

func TestUpdateTaskStatusMergesFields(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, _, err := m.CreateTask("sess-1", seeds(1), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := m.UpdateTaskStatus("sess-1", taskID, models.StatusProcessing, map[string]interface{}{
		"current_image": 1,
	})
	if err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if got.Status != models.StatusProcessing {
		t.Fatalf("status = %q", got.Status)
	}
	if got.CurrentImage != 1 {
		t.Fatalf("current_image = %d, want 1", got.CurrentImage)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Fatal("updated_at not refreshed")
	}
}

func TestUpdateTaskProgressDerivesProcessed(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, _, err := m.CreateTask("sess-1", seeds(4), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := m.UpdateTaskProgress("sess-1", taskID, 50, 3)
	if err != nil {
		t.Fatalf("UpdateTaskProgress: %v", err)
	}
	if got.Progress != 50 {
		t.Fatalf("progress = %v", got.Progress)
	}
	if got.ProcessedImages != 2 {
		t.Fatalf("processed = %d, want 2", got.ProcessedImages)
	}
	if got.CurrentImage != 3 {
		t.Fatalf("current_image = %d, want 3", got.CurrentImage)
	}
}

func TestCancelKeepsExistingResults(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, created, err := m.CreateTask("sess-1", seeds(3), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := m.AddTaskResult("sess-1", taskID, created.Images[0].Filename, okResult("/u")); err != nil {
		t.Fatalf("AddTaskResult: %v", err)
	}
	if _, err := m.CancelTask("sess-1", taskID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if _, err := m.CancelPendingItems("sess-1", taskID); err != nil {
		t.Fatalf("CancelPendingItems: %v", err)
	}

	got, _ := m.GetTask("sess-1", taskID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	if got.Images[0].Status != models.StatusCompleted {
		t.Fatalf("completed slot overwritten: %q", got.Images[0].Status)
	}
	for _, img := range got.Images[1:] {
		if img.Status != models.StatusCancelled {
			t.Fatalf("pending slot not cancelled: %+v", img)
		}
	}
	if got.Results.SuccessCount != 1 {
		t.Fatalf("success count lost: %d", got.Results.SuccessCount)
	}
}

func TestSessionIsolation(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, _, err := m.CreateTask("sess-a", seeds(1), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// 同一个 task_id 在另一个 session 下不可见
	got, err := m.GetTask("sess-b", taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Fatalf("task leaked across sessions: %+v", got)
	}

	other, err := m.GetAllTasks("sess-b")
	if err != nil {
		t.Fatalf("GetAllTasks: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("sess-b sees %d tasks", len(other))
	}
}

func TestGetAllTasksSkipsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	m := NewBatchTaskManager(client)

	if _, _, err := m.CreateTask("sess-1", seeds(1), "p", "gemini", ""); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	mr.Set("batch_task:sess-1:broken", "{not json")

	tasks, err := m.GetAllTasks("sess-1")
	if err != nil {
		t.Fatalf("GetAllTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1 (corrupt skipped)", len(tasks))
	}
}

func TestGetAllTasksOrdering(t *testing.T) {
	m := newTestTaskManager(t)

	for i := 0; i < 3; i++ {
		if _, _, err := m.CreateTask("sess-1", seeds(1), "p", "gemini", ""); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	tasks, err := m.GetAllTasks("sess-1")
	if err != nil {
		t.Fatalf("GetAllTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks", len(tasks))
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].CreatedAt.After(tasks[i-1].CreatedAt) {
			t.Fatalf("tasks not sorted by created_at desc at %d", i)
		}
	}
}

func TestDeleteTask(t *testing.T) {
	m := newTestTaskManager(t)

	taskID, _, err := m.CreateTask("sess-1", seeds(1), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	ok, err := m.DeleteTask("sess-1", taskID)
	if err != nil || !ok {
		t.Fatalf("DeleteTask = %v, %v", ok, err)
	}
	ok, err = m.DeleteTask("sess-1", taskID)
	if err != nil || ok {
		t.Fatalf("second DeleteTask = %v, %v, want false", ok, err)
	}
}

func TestTaskKeyHasTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	m := NewBatchTaskManager(client)

	taskID, _, err := m.CreateTask("sess-1", seeds(1), "p", "gemini", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	ttl := mr.TTL(m.makeTaskKey("sess-1", taskID))
	if ttl <= 0 || ttl > taskTTL {
		t.Fatalf("ttl = %v, want (0, %v]", ttl, taskTTL)
	}

	// 过期后任务不再可见
	mr.FastForward(taskTTL + time.Second)
	got, err := m.GetTask("sess-1", taskID)
	if err != nil {
		t.Fatalf("GetTask after expiry: %v", err)
	}
	if got != nil {
		t.Fatal("task survived TTL expiry")
	}
}
