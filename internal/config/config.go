package config

import "net/http/cookiejar"

type Config struct {
	// Driver 选择并定位浏览器驱动
	// Name为空时渲染服务不可用,Bin和ControlUrl二选一,同时给出时优先本地启动
	Driver struct {
		Name       string   `json:"name"`
		Bin        string   `json:"bin"`
		ControlUrl string   `json:"control_url"`
		Arguments  []string `json:"arguments"`
	} `json:"driver"`

	Render struct {
		TimeoutSeconds   int      `json:"timeout_seconds"`
		FallbackToStatic bool     `json:"fallback_to_static"`
		Patterns         []string `json:"patterns"`
	} `json:"render"`

	Log struct {
		Env   string `json:"env"`
		Level string `json:"level"`
	} `json:"log"`

	Elasticsearch struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Address  string `json:"address"`
	} `json:"elasticsearch"`

	Rod struct {
		UserDataDir          string `json:"user_data_dir"`
		Headless             bool   `json:"headless"`
		Stealth              bool   `json:"stealth"`
		DisableBlinkFeatures string `json:"disable_blink_features"`
		Incognito            bool   `json:"incognito"`
		DisableDevShmUsage   bool   `json:"disable_dev_shm_usage"`
		NoSandbox            bool   `json:"no_sandbox"`
		UserAgent            string `json:"user_agent"`
		Leakless             bool   `json:"leakless"`
	} `json:"rod"`

	Chromedp struct {
		UserDataDir          string `json:"user_data_dir"`
		Headless             bool   `json:"headless"`
		DisableBlinkFeatures string `json:"disable_blink_features"`
		Incognito            bool   `json:"incognito"`
		DisableDevShmUsage   bool   `json:"disable_dev_shm_usage"`
		NoSandbox            bool   `json:"no_sandbox"`
		UserAgent            string `json:"user_agent"`
	} `json:"chromedp"`

	Colly struct {
		AllowedDomains   []string           `json:"allowed_domains"`
		MaxDepth         int                `json:"max_depth"`
		UserAgent        string             `json:"user_agent"`
		IgnoreRobotsTxt  bool               `json:"ignore_robots_txt"`
		Async            bool               `json:"async"`
		Parallelism      int                `json:"parallelism"`
		Delay            int                `json:"delay"`
		RandomDelay      int                `json:"random_delay"`
		EnableCookieJar  bool               `json:"enable_cookie_jar"`
		CookieJarOptions *cookiejar.Options `json:"cookie_jar_options"`
	} `json:"colly"`

	Parallel struct {
		PoolSize          int `json:"pool_size"`
		PagePoolSize      int `json:"page_pool_size"`
		BaseDebuggingPort int `json:"base_debugging_port"`
	} `json:"parallel"`

	Embedder struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Model     string `json:"model"`
		BatchSize int    `json:"batch_size"`
	} `json:"embedder"`

	LLM struct {
		Host           string `json:"host"`
		Port           int    `json:"port"`
		Model          string `json:"model"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"llm"`

	Agent struct {
		IndexName            string `json:"index_name"`
		SearchMaxResults     int    `json:"search_max_results"`
		SearchRegion         string `json:"search_region"`
		SearchTimeoutSeconds int    `json:"search_timeout_seconds"`
	} `json:"agent"`
}
