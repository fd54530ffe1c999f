package router

// User-facing strings.
const (
	MsgWelcome               = "¡Hola! Puedes enviarme texto o audios y responderé con voz."
	MsgTranscribedFormat     = "Texto transcrito: %s"
	MsgVoiceCaption          = "Aquí está la respuesta en voz."
	MsgUnsupported           = "Solo puedo procesar texto, audios e imágenes."
	MsgProviderFailed        = "Error al obtener la respuesta del asistente."
	MsgTranscriptionFailed   = "No pude transcribir el audio."
	MsgSessionInitFailed     = "No pude iniciar la conversación."
	MsgAttachmentFetchFailed = "No pude descargar el archivo."
	MsgStorageFailed         = "No pude procesar la imagen."
)
