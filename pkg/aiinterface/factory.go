package aiinterface

// ClientFactory AI客户端工厂接口
// 用于按提供商创建模型客户端
type ClientFactory interface {
	// CreateClient 根据提供商和配置创建AI客户端
	CreateClient(provider string, config *ClientConfig) (ModelClient, error)

	// SupportedProviders 获取支持的提供商列表
	SupportedProviders() []string
}
