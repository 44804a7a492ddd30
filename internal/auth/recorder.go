package auth

// Recorder は認証イベントのメトリクス記録インターフェース。
// metrics.Collectorが実装する。未設定の場合は何もしないnopRecorderを使用する。
type Recorder interface {
	RecordSignup()
	RecordSigninSuccess()
	RecordSigninFailure()
	RecordRateLimited()
	RecordSessionIssued()
	RecordSessionRenewed()
	RecordSessionRevoked()
}

type nopRecorder struct{}

func (nopRecorder) RecordSignup()         {}
func (nopRecorder) RecordSigninSuccess()  {}
func (nopRecorder) RecordSigninFailure()  {}
func (nopRecorder) RecordRateLimited()    {}
func (nopRecorder) RecordSessionIssued()  {}
func (nopRecorder) RecordSessionRenewed() {}
func (nopRecorder) RecordSessionRevoked() {}

var _ Recorder = nopRecorder{}
