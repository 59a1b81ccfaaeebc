//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pose-tracker-go/internal/service"
	"pose-tracker-go/pkg/models"
)

const baseURL = "http://localhost:8080/api/v1"

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func main() {
	// Проверяем health endpoint
	fmt.Println("Проверяем health endpoint...")
	body, status, err := get(baseURL + "/health")
	if err != nil {
		fmt.Printf("Ошибка при обращении к health endpoint: %v\n", err)
		return
	}
	fmt.Printf("Health check ответ (статус %d):\n%s\n\n", status, body)

	if len(os.Args) < 2 {
		fmt.Println("Для проверки обработки запустите: go run test_client.go <путь_к_видео>")
		return
	}

	videoPath := os.Args[1]
	fmt.Printf("Загружаем видео %s...\n", videoPath)
	upload, err := uploadVideo(videoPath)
	if err != nil {
		fmt.Printf("Ошибка загрузки: %v\n", err)
		return
	}
	fmt.Printf("Видео принято: %s\n", upload.VideoID)

	if err := waitForResult(upload.VideoID); err != nil {
		fmt.Printf("Ошибка обработки: %v\n", err)
		return
	}

	body, status, err = get(fmt.Sprintf("%s/videos/%s/analysis", baseURL, upload.VideoID))
	if err != nil {
		fmt.Printf("Ошибка получения анализа: %v\n", err)
		return
	}
	fmt.Printf("Анализ (статус %d):\n%s\n", status, body)
}

func uploadVideo(path string) (*service.UploadResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("video", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form field: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write video: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/videos", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, msg)
	}

	var upload service.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &upload, nil
}

// waitForResult опрашивает прогресс, пока обработка не завершится
func waitForResult(id string) error {
	for {
		body, status, err := get(fmt.Sprintf("%s/videos/%s/progress", baseURL, id))
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("progress returned status %d: %s", status, body)
		}

		var p models.Progress
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		fmt.Printf("  %-10s %6.1f%%  %s\n", p.Stage, p.Progress, p.Message)

		if p.Terminal() {
			if p.Stage != models.StageCompleted {
				return fmt.Errorf("processing ended with stage %s: %s", p.Stage, p.Message)
			}
			return nil
		}
		time.Sleep(time.Second)
	}
}

func get(url string) ([]byte, int, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
