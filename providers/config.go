package providers

import "time"

// Config 是所有上游适配器的公共配置。
type Config struct {
	// Name 是 Provider 的唯一标识，参与路由与熔断统计。
	Name string `json:"name" yaml:"name"`

	// APIKey 上游认证密钥。
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL 上游基础地址，留空使用适配器默认值。
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model 请求未指定模型时的默认模型。
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout HTTP 客户端超时，零值使用适配器默认值。
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
