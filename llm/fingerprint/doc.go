/*
包 fingerprint 负责把规范化请求转换为缓存指纹。

指纹由两部分组成：精确哈希（对规范化后的请求体做 SHA-256）与
可选的语义向量。精确哈希是纯函数——同一逻辑请求无论字段顺序、
JSON 键序如何，始终得到同一哈希；语义向量由外部嵌入能力在响应
返回之后异步补全，永远不阻塞精确匹配路径。
*/
package fingerprint
