// Package i18n provides localized log messages for the control plane.
package i18n

import (
	"reflect"
	"sync"
)

// Language selects the active message catalog.
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable log strings.
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string

	// Warm cache / cold store
	WarmCacheRefreshStarted string
	WarmCacheRefreshFailed  string
	WarmCacheTrimmed        string
	ColdStoreWriteFailed    string

	// Price authority / router
	DataSourceTransition string
	MarkStale            string
	FreshnessAuditFailed string

	// Paper runner
	RunnerStarted            string
	RunnerStopped            string
	RunnerOrphanReconciled   string
	OrderBlockedDuplicate    string
	PositionOpened           string
	PositionClosed           string
	RealizedPnL              string
	KillSwitchEngaged        string
	KillSwitchPartialFailure string

	// Job lease queue
	JobClaimed      string
	JobTimeoutSweep string
	JobRenewFailed  string

	// Graduation / recovery
	GraduationResult   string
	AccountBlown       string
	BotDemoted         string
	ImprovingJobQueued string

	// Ensemble
	EnsembleConflict string
	EnsembleTimeout  string
}

var (
	mu          sync.RWMutex
	currentLang Language
	messages    *Messages

	messagesEN = Messages{
		Starting:           "starting futurescore control plane",
		ConfigLoaded:       "config loaded, control surface port=%s",
		UsingDBPath:        "using database at %s",
		ServerListening:    "control surface listening on %s",
		ShuttingDown:       "shutting down",
		ConfigLoadFailed:   "failed to load config: %v",
		DBInitFailed:       "failed to init database: %v",
		DBMigrationsFailed: "failed to apply migrations: %v",
		APIServerError:     "control surface error: %v",

		WarmCacheRefreshStarted: "warm cache refresh started for %s",
		WarmCacheRefreshFailed:  "warm cache refresh failed for %s: %v",
		WarmCacheTrimmed:        "warm cache trimmed %s to %d bars",
		ColdStoreWriteFailed:    "cold store write failed: %v",

		DataSourceTransition: "data source %s -> %s (%s)",
		MarkStale:            "mark for %s is stale, age=%v",
		FreshnessAuditFailed: "freshness audit persist failed: %v",

		RunnerStarted:            "runner started for bot %s",
		RunnerStopped:            "runner stopped for bot %s",
		RunnerOrphanReconciled:   "reconciled orphan trade %s for bot %s",
		OrderBlockedDuplicate:    "order blocked: duplicate trade guardrail bot=%s symbol=%s",
		PositionOpened:           "position opened: bot=%s %s %.4f @ %.4f",
		PositionClosed:           "position closed: bot=%s pnl=%.2f reason=%s",
		RealizedPnL:              "realized pnl %.2f for bot=%s",
		KillSwitchEngaged:        "kill switch engaged for %d runners",
		KillSwitchPartialFailure: "kill switch partial failure: %v",

		JobClaimed:      "job %s claimed by worker %s",
		JobTimeoutSweep: "timeout sweep marked %d jobs as TIMEOUT",
		JobRenewFailed:  "lease renew failed for job %s: %v",

		GraduationResult:   "graduation check bot=%s stage=%s passed=%v",
		AccountBlown:       "account %s blown, consecutive=%d",
		BotDemoted:         "bot %s demoted to TRIALS: %s",
		ImprovingJobQueued: "improving job queued for bot %s",

		EnsembleConflict: "ensemble conflict %s for bot=%s",
		EnsembleTimeout:  "ensemble provider %s timed out",
	}

	messagesZH = Messages{
		Starting:           "正在啟動 futurescore 控制平面",
		ConfigLoaded:       "設定已載入，控制介面埠號=%s",
		UsingDBPath:        "使用資料庫路徑 %s",
		ServerListening:    "控制介面監聽於 %s",
		ShuttingDown:       "正在關閉",
		ConfigLoadFailed:   "載入設定失敗：%v",
		DBInitFailed:       "初始化資料庫失敗：%v",
		DBMigrationsFailed: "套用遷移失敗：%v",
		APIServerError:     "控制介面錯誤：%v",

		WarmCacheRefreshStarted: "熱快取刷新開始：%s",
		WarmCacheRefreshFailed:  "熱快取刷新失敗：%s：%v",
		WarmCacheTrimmed:        "熱快取已修剪 %s 至 %d 筆",
		ColdStoreWriteFailed:    "冷儲存寫入失敗：%v",

		DataSourceTransition: "資料來源 %s -> %s（%s）",
		MarkStale:            "%s 的報價已過期，age=%v",
		FreshnessAuditFailed: "新鮮度稽核寫入失敗：%v",

		RunnerStarted:            "機器人 %s 的執行器已啟動",
		RunnerStopped:            "機器人 %s 的執行器已停止",
		RunnerOrphanReconciled:   "已協調孤兒交易 %s（機器人 %s）",
		OrderBlockedDuplicate:    "訂單被封鎖：重複交易防護 bot=%s symbol=%s",
		PositionOpened:           "已開倉：bot=%s %s %.4f @ %.4f",
		PositionClosed:           "已平倉：bot=%s pnl=%.2f 原因=%s",
		RealizedPnL:              "已實現損益 %.2f（bot=%s）",
		KillSwitchEngaged:        "緊急停止已啟動，涉及 %d 個執行器",
		KillSwitchPartialFailure: "緊急停止部分失敗：%v",

		JobClaimed:      "工作 %s 已由工作者 %s 認領",
		JobTimeoutSweep: "逾時掃描標記 %d 個工作為 TIMEOUT",
		JobRenewFailed:  "工作 %s 租約續約失敗：%v",

		GraduationResult:   "晉升檢查 bot=%s stage=%s passed=%v",
		AccountBlown:       "帳戶 %s 已爆倉，連續次數=%d",
		BotDemoted:         "機器人 %s 已降級至 TRIALS：%s",
		ImprovingJobQueued: "已為機器人 %s 排入改善工作",

		EnsembleConflict: "集成投票衝突 %s（bot=%s）",
		EnsembleTimeout:  "集成投票提供者 %s 逾時",
	}
)

func init() {
	messages = &messagesEN
}

// SetLanguage sets the active catalog.
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()
	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the active language.
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the active message catalog.
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get looks up a message by field name via reflection.
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
