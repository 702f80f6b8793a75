package ai

import "fmt"

// SystemInstruction keeps the enhanced prompt on the subject the user named.
const SystemInstruction = `You are an expert prompt engineer for AI image generation.
Your task is to enhance the user's prompt while maintaining STRICT SEMANTIC ALIGNMENT.

CRITICAL RULES:
1. If the user says "tree", generate ONLY a tree - no mountains, no landscapes, no extra objects
2. Keep the primary subject EXACTLY as the user specified
3. Add only complementary details that support the main subject
4. Do not add unrelated objects or change the subject
5. Focus on photorealistic quality, lighting, and artistic style`

// BuildQuery 构造用户消息，原始转写必须是画面主体。
func BuildQuery(transcript string) string {
	return fmt.Sprintf(`User's original prompt (MUST be the primary focus): "%s"

Generate an enhanced prompt that strictly describes this subject with professional photography details.`, transcript)
}

// PlaceholderPrompt is returned when no model is configured.
func PlaceholderPrompt(transcript string) string {
	return fmt.Sprintf("A creative interpretation of: \"%s\"", transcript)
}

// FallbackPrompt 在模型调用失败时使用。
func FallbackPrompt(transcript string) string {
	return fmt.Sprintf("A detailed, high-quality image of %s, photorealistic, professional photography, cinematic lighting", transcript)
}
