/*
Package testutil 提供 GateFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel，
    支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON，简化测试数据构造

# 子包

  - testutil/mocks: Mock 实现，包括 MockProvider（上游适配器）与
    MockEmbedder（嵌入客户端），均支持 Builder 模式与错误注入
  - testutil/fixtures: 测试数据工厂，提供预置 ChatRequest 与
    ChatResponse 样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider("primary").WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
	require.NoError(t, err)
*/
package testutil
