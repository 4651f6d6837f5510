package analysis

const systemPrompt = "你是一个商业分析助手。用户会提供一份聊天记录明细，请根据这些记录回答用户的需求。请忽略格式上的噪音，专注于内容分析。"

// Arguments: query, message details.
const userPromptFormat = "用户需求：%s\n\n聊天记录数据（请根据以下明细数据进行分析）：\n%s"
