package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangKO Language = "ko"
	LangEN Language = "en"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting         string
	ConfigLoaded     string
	UsingDBPath      string
	ServerListening  string
	ShuttingDown     string
	PaperMode        string
	LiveMode         string
	ConfigLoadFailed string
	DBInitFailed     string
	APIServerError   string
	SecretsPlaintext string

	// Session
	SessionStarted       string
	SessionStopped       string
	AlreadyRunning       string
	NotRunning           string
	EmptyWatchlist       string
	StrategyNotLive      string
	LiveGuardPrompt      string
	LiveGuardRejected    string
	CredentialsFailed    string
	NoAccount            string
	DepositFailed        string
	UniverseInitFailed   string
	SnapshotFailed       string
	StreamFailed         string
	StartFailed          string
	ScheduleOutside      string
	ScheduleLiquidation  string
	MarketCloseLiquidate string
	DailyLossLimit       string
	PhaseChanged         string

	// Reconciliation
	SyncFailed    string
	SyncReset     string
	BuyFilled     string
	SellFilled    string
	ExternalError string

	// CLI
	CheckCredentialsOK string
	CheckAccounts      string
	CheckDeposit       string
	TokenIssued        string
	BacktestSummary    string
	CredentialsSaved   string
}

var (
	currentLang Language = LangKO
	mu          sync.RWMutex
	messages    *Messages
)

// Korean messages
var messagesKO = Messages{
	// System
	Starting:         "키움 자동매매 코어를 시작합니다...",
	ConfigLoaded:     "설정을 불러왔습니다 (포트: %s, 모드: %s)",
	UsingDBPath:      "데이터베이스 경로: %s",
	ServerListening:  "API 서버 대기 중 :%s",
	ShuttingDown:     "종료 중입니다...",
	PaperMode:        "모의투자 모드입니다 (실제 주문이 전송되지 않습니다)",
	LiveMode:         "실전투자 모드입니다. 실제 주문이 전송됩니다",
	ConfigLoadFailed: "설정을 불러오지 못했습니다: %v",
	DBInitFailed:     "데이터베이스 초기화 실패: %v",
	APIServerError:   "API 서버 오류: %v",
	SecretsPlaintext: "암호화 저장소를 사용할 수 없어 평문으로 저장합니다: %s",

	// Session
	SessionStarted:       "자동매매를 시작했습니다 (종목 %d개, 전략 %s)",
	SessionStopped:       "자동매매를 중지했습니다",
	AlreadyRunning:       "이미 자동매매가 실행 중입니다",
	NotRunning:           "자동매매가 실행 중이 아닙니다",
	EmptyWatchlist:       "감시 종목이 없습니다. 6자리 종목코드를 입력하세요",
	StrategyNotLive:      "전략 %s 은(는) 실전투자를 지원하지 않습니다. 모의투자로 전환하거나 다른 전략을 선택하세요",
	LiveGuardPrompt:      "실전투자를 시작하려면 %d초 안에 \"%s\" 를 입력하세요",
	LiveGuardRejected:    "실전투자 확인 문구가 일치하지 않아 시작을 취소했습니다",
	CredentialsFailed:    "API 키 인증에 실패했습니다. 앱키와 시크릿키를 확인하세요: %v",
	NoAccount:            "사용 가능한 계좌가 없습니다",
	DepositFailed:        "예수금 조회에 실패했습니다: %v",
	UniverseInitFailed:   "종목 초기화에 실패했습니다 (%s): %v",
	SnapshotFailed:       "보유 종목 동기화에 실패했습니다: %v",
	StreamFailed:         "실시간 시세 연결에 실패했습니다: %v",
	StartFailed:          "자동매매 시작 실패: %v",
	ScheduleOutside:      "예약 시간(%s~%s) 밖입니다. 매매를 일시 중지합니다",
	ScheduleLiquidation:  "예약 종료 시간 도달, 보유 종목을 전량 매도합니다",
	MarketCloseLiquidate: "장 마감 1분 전, 보유 종목을 전량 매도합니다",
	DailyLossLimit:       "일일 손실 한도(%.1f%%)에 도달했습니다. 신규 매수를 중단합니다",
	PhaseChanged:         "시간대 전략 전환: %s",

	// Reconciliation
	SyncFailed:    "잔고 동기화 실패로 종목을 잠급니다: %s",
	SyncReset:     "동기화 잠금 해제: %s",
	BuyFilled:     "매수 체결 %s %d주 @ %.0f원",
	SellFilled:    "매도 체결 %s %d주 @ %.0f원 (손익 %+.0f원)",
	ExternalError: "수급 데이터 조회 실패 %s: %v",

	// CLI
	CheckCredentialsOK: "API 인증 성공",
	CheckAccounts:      "계좌: %v",
	CheckDeposit:       "예수금 %.0f원, 총평가 %.0f원",
	TokenIssued:        "운영자 토큰을 발급했습니다 (유효기간 %s)",
	BacktestSummary:    "수익률 %.2f%%, 최대낙폭 %.2f%%, 거래 %d회, 승률 %.1f%%",
	CredentialsSaved:   "인증 정보를 저장했습니다: %s (암호화: %t)",
}

// English messages
var messagesEN = Messages{
	// System
	Starting:         "Starting Kiwoom trading core...",
	ConfigLoaded:     "Config loaded (port: %s, mode: %s)",
	UsingDBPath:      "Using DB path: %s",
	ServerListening:  "API server listening on :%s",
	ShuttingDown:     "Shutting down...",
	PaperMode:        "Running in PAPER mode (orders will NOT reach the broker)",
	LiveMode:         "Running in LIVE mode. Real orders will be sent",
	ConfigLoadFailed: "Failed to load config: %v",
	DBInitFailed:     "Failed to init database: %v",
	APIServerError:   "API server error: %v",
	SecretsPlaintext: "Encrypted secrets unavailable, storing in plaintext: %s",

	// Session
	SessionStarted:       "Trading started (%d symbols, strategy %s)",
	SessionStopped:       "Trading stopped",
	AlreadyRunning:       "Trading is already running",
	NotRunning:           "Trading is not running",
	EmptyWatchlist:       "Watchlist is empty. Enter six-digit stock codes",
	StrategyNotLive:      "Strategy %s does not support live trading. Switch to paper mode or choose another strategy",
	LiveGuardPrompt:      "Type \"%[2]s\" within %[1]d seconds to start live trading",
	LiveGuardRejected:    "Live trading confirmation did not match; start cancelled",
	CredentialsFailed:    "Credential check failed. Verify the app key and secret: %v",
	NoAccount:            "No trading account available",
	DepositFailed:        "Deposit query failed: %v",
	UniverseInitFailed:   "Failed to initialize %s: %v",
	SnapshotFailed:       "Position snapshot failed: %v",
	StreamFailed:         "Realtime stream connection failed: %v",
	StartFailed:          "Failed to start trading: %v",
	ScheduleOutside:      "Outside scheduled window (%s-%s); trading paused",
	ScheduleLiquidation:  "Scheduled end reached, liquidating all holdings",
	MarketCloseLiquidate: "One minute to market close, liquidating all holdings",
	DailyLossLimit:       "Daily loss limit (%.1f%%) reached; new entries halted",
	PhaseChanged:         "Time strategy phase changed: %s",

	// Reconciliation
	SyncFailed:    "Position sync failed, codes latched: %s",
	SyncReset:     "Sync latch cleared: %s",
	BuyFilled:     "Bought %s %d @ %.0f KRW",
	SellFilled:    "Sold %s %d @ %.0f KRW (P&L %+.0f KRW)",
	ExternalError: "Flow data fetch failed for %s: %v",

	// CLI
	CheckCredentialsOK: "Credentials OK",
	CheckAccounts:      "Accounts: %v",
	CheckDeposit:       "Deposit %.0f KRW, total equity %.0f KRW",
	TokenIssued:        "Operator token issued (valid for %s)",
	BacktestSummary:    "Return %.2f%%, max drawdown %.2f%%, %d trades, win rate %.1f%%",
	CredentialsSaved:   "Credentials saved to %s (encrypted: %t)",
}

func init() {
	messages = &messagesKO
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangEN:
		messages = &messagesEN
	default:
		currentLang = LangKO
		messages = &messagesKO
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
