package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/internal/common/mq"
	"judgebox/internal/judge/model"
	"judgebox/internal/judge/sandbox/result"
	appErr "judgebox/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRepo(t *testing.T, ttl time.Duration) (*ResultRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return NewResultRepository(c, ttl), mr
}

func TestResultRepositoryRoundTrip(t *testing.T) {
	repo, mr := newRepo(t, time.Hour)
	ctx := context.Background()

	record := model.SubmissionRecord{
		SubmissionID: "s1",
		UserID:       "u1",
		ProblemID:    "p1",
		Language:     "python",
		Status:       result.StatusFinished,
		Progress:     model.Progress{TotalTests: 2, DoneTests: 2},
		Evaluation: &result.Evaluation{
			SubmissionID: "s1",
			Language:     "python",
			Verdict:      result.VerdictAC,
			Stdout:       strings.Repeat("5\n", 200),
			Total:        2,
		},
	}
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := mr.Get(resultKeyPrefix + "s1")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if json.Valid([]byte(raw)) {
		t.Fatal("stored value should be compressed")
	}
	if ttl := mr.TTL(resultKeyPrefix + "s1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Evaluation == nil || got.Evaluation.Verdict != result.VerdictAC || got.Evaluation.Stdout != record.Evaluation.Stdout {
		t.Fatalf("got %+v", got)
	}
	if got.UserID != "u1" || got.Status != result.StatusFinished {
		t.Fatalf("got %+v", got)
	}
}

func TestResultRepositoryMissing(t *testing.T) {
	repo, _ := newRepo(t, time.Hour)
	_, err := repo.Get(context.Background(), "nope")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("err = %v", err)
	}
	_, err = repo.GetProgress(context.Background(), "nope")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("progress err = %v", err)
	}
}

func TestResultRepositoryCorruptValue(t *testing.T) {
	repo, mr := newRepo(t, time.Hour)
	_ = mr.Set(resultKeyPrefix+"bad", "not zstd")
	_, err := repo.Get(context.Background(), "bad")
	if appErr.GetCode(err) != appErr.CacheError {
		t.Fatalf("err = %v", err)
	}
}

func TestResultRepositoryProgress(t *testing.T) {
	repo, mr := newRepo(t, 10*time.Minute)
	ctx := context.Background()

	err := repo.SaveProgress(ctx, model.SubmissionRecord{
		SubmissionID: "s2",
		Language:     "cpp",
		Status:       result.StatusRunning,
		Progress:     model.Progress{TotalTests: 5, DoneTests: 3},
		ReceivedAt:   1700000000000,
	})
	if err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if ttl := mr.TTL(progressKeyPrefix + "s2"); ttl != 10*time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
	got, err := repo.GetProgress(ctx, "s2")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	want := model.SubmissionRecord{
		SubmissionID: "s2",
		Language:     "cpp",
		Status:       result.StatusRunning,
		Progress:     model.Progress{TotalTests: 5, DoneTests: 3},
		ReceivedAt:   1700000000000,
	}
	if got.SubmissionID != want.SubmissionID || got.Status != want.Status || got.Progress != want.Progress ||
		got.ReceivedAt != want.ReceivedAt || got.Language != want.Language {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResultRepositoryValidation(t *testing.T) {
	repo := NewResultRepository(nil, time.Hour)
	if err := repo.Save(context.Background(), model.SubmissionRecord{}); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("err = %v", err)
	}
	if err := repo.Save(context.Background(), model.SubmissionRecord{SubmissionID: "x"}); appErr.GetCode(err) != appErr.CacheError {
		t.Fatalf("err = %v", err)
	}
}

type fakeProducer struct {
	topic string
	msgs  []*mq.Message
	err   error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.msgs = append(f.msgs, message)
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProducer) Ping(ctx context.Context) error { return nil }
func (f *fakeProducer) Close() error                   { return nil }

func TestMQVerdictEventPublisher(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewMQVerdictEventPublisher(producer, "judge.verdict")

	event := model.VerdictEvent{
		Type:         model.VerdictEventFinal,
		SubmissionID: "s1",
		Language:     "python",
		Verdict:      result.VerdictWA,
		Total:        3,
		CreatedAt:    1,
	}
	if err := pub.PublishVerdict(context.Background(), event); err != nil {
		t.Fatalf("PublishVerdict: %v", err)
	}
	if producer.topic != "judge.verdict" || len(producer.msgs) != 1 {
		t.Fatalf("topic = %s msgs = %d", producer.topic, len(producer.msgs))
	}
	msg := producer.msgs[0]
	if msg.ID != "s1" {
		t.Fatalf("id = %s", msg.ID)
	}
	if v, _ := msg.GetHeader("verdict"); v != "WA" {
		t.Fatalf("verdict header = %q", v)
	}
	var decoded model.VerdictEvent
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Verdict != result.VerdictWA || decoded.Total != 3 {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestMQVerdictEventPublisherErrors(t *testing.T) {
	var nilPub *MQVerdictEventPublisher
	if code := appErr.GetCode(nilPub.PublishVerdict(context.Background(), model.VerdictEvent{SubmissionID: "s"})); code != appErr.ServiceUnavailable {
		t.Fatalf("code = %v", code)
	}
	pub := NewMQVerdictEventPublisher(&fakeProducer{err: errors.New("broker down")}, "judge.verdict")
	if code := appErr.GetCode(pub.PublishVerdict(context.Background(), model.VerdictEvent{SubmissionID: "s"})); code != appErr.EventPublishFailed {
		t.Fatalf("code = %v", code)
	}
}
