package packager

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// createArchive 把 staging 目录压成 dst 处的 tar.gz，
// 归档内唯一的顶层条目名是 topName (= 批次 id)。
//
// 任何一步失败都会删掉写了一半的归档文件 —— 调用方靠“归档存在”
// 来判断能否删暂存目录，绝不能留下半截归档误导它。
func createArchive(dst, staging, topName string) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(dst)
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(staging, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}

		// 归档内路径：<topName>/<相对路径>，根目录就是 topName 本身
		name := topName
		if rel != "." {
			name = topName + "/" + filepath.ToSlash(rel)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", staging, err)
	}

	// 关闭顺序很重要：tar -> gzip -> file，任何一步失败都算归档失败
	if err = tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err = gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}

	return nil
}

// Extract 把批次归档解压到 targetDir (恢复工具和测试用)。
// 归档来自我们自己的 createArchive，但解压时仍然防御路径穿越。
func Extract(archivePath, targetDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		// 防御 "../" 之类的恶意条目
		target := filepath.Join(targetDir, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(targetDir, target)
		if err != nil || rel == ".." || filepath.IsAbs(rel) ||
			(len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)) {
			return fmt.Errorf("unsafe tar entry: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}
